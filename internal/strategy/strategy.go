package strategy

import (
	"fmt"
	"math"
	"sort"

	"trailbot/internal/filter"
	"trailbot/internal/models"
)

// Strategy поставляет уверенность по окну свечей и набор порогов фильтров.
// Реализация не хранит состояния между вызовами: одно и то же окно даёт одно и то же значение.
type Strategy interface {
	Name() string
	Description() string
	Lookback() int
	Confidence(window []models.Bar) float64
	Filters(base filter.Config) filter.Config
}

type Descriptor struct {
	Name        string
	Description string
	New         func() Strategy
}

const (
	modelDescription      = "уверенность классификатора из колонки confidence"
	trendScoreDescription = "уверенность из согласованности тренда, осциллятора и объёма по окну"
)

var registry = []Descriptor{
	{Name: "model", Description: modelDescription, New: func() Strategy { return Model{} }},
	{Name: "trend_score", Description: trendScoreDescription, New: func() Strategy { return NewTrendScore(20) }},
}

// Registry копия таблицы стратегий, отсортированная по имени.
func Registry() []Descriptor {
	out := append([]Descriptor(nil), registry...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for _, d := range Registry() {
		names = append(names, d.Name)
	}
	return names
}

func Lookup(name string) (Strategy, error) {
	for _, d := range registry {
		if d.Name == name {
			return d.New(), nil
		}
	}
	return nil, fmt.Errorf("Неизвестная стратегия: %s", name)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Model передаёт уверенность последней свечи окна как есть.
type Model struct{}

func (Model) Name() string        { return "model" }
func (Model) Description() string { return modelDescription }
func (Model) Lookback() int       { return 1 }

func (Model) Confidence(window []models.Bar) float64 {
	if len(window) == 0 {
		return 0
	}
	return clamp01(window[len(window)-1].Confidence)
}

func (Model) Filters(base filter.Config) filter.Config {
	return base
}

// TrendScore оценивает уверенность по окну: доля свечей с тем же трендом,
// что и у последней, запас осциллятора до экстремума и превышение объёма.
type TrendScore struct {
	lookback int
}

const (
	trendWeight      = 0.5
	oscillatorWeight = 0.25
	volumeWeight     = 0.25
)

func NewTrendScore(lookback int) TrendScore {
	if lookback < 1 {
		lookback = 1
	}
	return TrendScore{lookback: lookback}
}

func (TrendScore) Name() string        { return "trend_score" }
func (TrendScore) Description() string { return trendScoreDescription }
func (s TrendScore) Lookback() int     { return s.lookback }

func (s TrendScore) Confidence(window []models.Bar) float64 {
	if len(window) == 0 {
		return 0
	}
	if len(window) > s.lookback {
		window = window[len(window)-s.lookback:]
	}
	last := window[len(window)-1]

	var dir models.Direction
	switch {
	case last.TrendUp && !last.TrendDown:
		dir = models.DirectionLong
	case last.TrendDown && !last.TrendUp:
		dir = models.DirectionShort
	default:
		return 0
	}

	agree := 0
	for _, b := range window {
		if (dir == models.DirectionLong && b.TrendUp && !b.TrendDown) ||
			(dir == models.DirectionShort && b.TrendDown && !b.TrendUp) {
			agree++
		}
	}
	trend := float64(agree) / float64(len(window))

	// запас до перекупленности для LONG и до перепроданности для SHORT
	osc := clamp01(last.Oscillator / 100)
	if dir == models.DirectionLong {
		osc = 1 - osc
	}

	vol := clamp01(last.VolumeRatio / 2)

	return clamp01(trend*trendWeight + osc*oscillatorWeight + vol*volumeWeight)
}

// Filters отключает осцилляторный гейт: осциллятор уже входит в оценку.
func (TrendScore) Filters(base filter.Config) filter.Config {
	name := filter.StageOscillator.String()
	for _, s := range base.DisabledStages {
		if s == name {
			return base
		}
	}
	out := base
	out.DisabledStages = append(append([]string(nil), base.DisabledStages...), name)
	return out
}
