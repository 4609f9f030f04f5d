package rest

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// quantize округляет значение вниз до шага.
func quantize(value, step float64) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}

// formatWithStep печатает значение, округлённое вниз до шага, с точностью шага.
func formatWithStep(value, step float64) string {
	if step <= 0 {
		return quantize(value, step).String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return quantize(value, step).StringFixed(places)
}

func parseFloatOrZero(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}
