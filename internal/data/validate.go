package data

import (
	"errors"
	"fmt"

	"trailbot/internal/models"
)

var (
	ErrMalformedBar = errors.New("Некорректная свеча")
	ErrNonMonotonic = errors.New("Время свечи не возрастает")
)

// CheckBar проверяет свечу относительно предыдущей принятой. prev может быть nil.
func CheckBar(prev *models.Bar, bar models.Bar) error {
	if !bar.Finite() {
		return fmt.Errorf("%w: нечисловое поле в %s", ErrMalformedBar, bar.Timestamp)
	}
	if bar.Timestamp.IsZero() {
		return fmt.Errorf("%w: нет времени", ErrMalformedBar)
	}
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return fmt.Errorf("%w: неположительная цена в %s", ErrMalformedBar, bar.Timestamp)
	}
	if bar.High < bar.Low {
		return fmt.Errorf("%w: high < low в %s", ErrMalformedBar, bar.Timestamp)
	}
	if bar.ATR < 0 || bar.Volume < 0 || bar.VolumeRatio < 0 {
		return fmt.Errorf("%w: отрицательный индикатор в %s", ErrMalformedBar, bar.Timestamp)
	}
	if bar.Confidence < 0 || bar.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f вне [0,1]", ErrMalformedBar, bar.Confidence)
	}
	if prev != nil && !bar.Timestamp.After(prev.Timestamp) {
		return fmt.Errorf("%w: %s после %s", ErrNonMonotonic, bar.Timestamp, prev.Timestamp)
	}
	return nil
}

type Report struct {
	Total        int `json:"total"`
	Kept         int `json:"kept"`
	Malformed    int `json:"malformed"`
	NonMonotonic int `json:"non_monotonic"`
}

// Validate отбрасывает некорректные и немонотонные свечи, сохраняя порядок остальных.
func Validate(bars []models.Bar) ([]models.Bar, Report) {
	rep := Report{Total: len(bars)}
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		var prev *models.Bar
		if len(out) > 0 {
			prev = &out[len(out)-1]
		}
		switch err := CheckBar(prev, b); {
		case err == nil:
			out = append(out, b)
		case errors.Is(err, ErrNonMonotonic):
			rep.NonMonotonic++
		default:
			rep.Malformed++
		}
	}
	rep.Kept = len(out)
	return out, rep
}
