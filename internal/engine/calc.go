package engine

import (
	"math"

	"trailbot/internal/models"
)

// RoundDown округляет объём вниз до шага. Нулевой шаг оставляет значение как есть.
func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+1e-9) * step
}

// shiftLevels переносит стоп и тейк на цену фактического исполнения, сохраняя расстояния.
func shiftLevels(p *models.Position, fill float64) {
	if fill <= 0 || fill == p.EntryPrice {
		return
	}
	delta := fill - p.EntryPrice
	p.EntryPrice = fill
	p.InitialStopLoss += delta
	p.StopLoss += delta
	p.TakeProfit += delta
	p.BestPrice = fill
}
