package filter

import (
	"fmt"
	"strings"

	"trailbot/internal/models"
)

type Stage int

const (
	StageConfidenceFloor Stage = iota
	StageTrend
	StageOscillator
	StageVolatility
	StageVolume
	StageConfidenceBand

	StageCount = int(StageConfidenceBand) + 1
)

var stageNames = [StageCount]string{
	"confidence_floor",
	"trend",
	"oscillator",
	"volatility",
	"volume",
	"confidence_band",
}

func (s Stage) String() string {
	if int(s) < 0 || int(s) >= StageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage принимает имя стадии в том виде, в каком оно пишется в конфиге.
func ParseStage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("Неизвестная стадия фильтра: %q", name)
}

type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusDisabled Status = "disabled"
)

type Config struct {
	ConfidenceFloor      float64
	BandLow              float64
	BandHigh             float64
	OscillatorOverbought float64
	OscillatorOversold   float64
	MaxVolatilityRatio   float64
	MinVolumeRatio       float64
	AllowShort           bool
	DisabledStages       []string
}

func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:      0.3,
		BandLow:              0.4,
		BandHigh:             0.75,
		OscillatorOverbought: 70,
		OscillatorOversold:   30,
		MaxVolatilityRatio:   0.05,
		MinVolumeRatio:       1.0,
		AllowShort:           true,
	}
}

func (c Config) Validate() error {
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor вне [0,1]: %f", c.ConfidenceFloor)
	}
	if c.BandLow < 0 || c.BandHigh > 1 || c.BandLow > c.BandHigh {
		return fmt.Errorf("Некорректный confidence_band: (%f, %f)", c.BandLow, c.BandHigh)
	}
	if c.OscillatorOversold > c.OscillatorOverbought {
		return fmt.Errorf("oscillator_oversold больше oscillator_overbought: %f > %f", c.OscillatorOversold, c.OscillatorOverbought)
	}
	if c.MaxVolatilityRatio <= 0 {
		return fmt.Errorf("max_volatility_ratio должен быть > 0: %f", c.MaxVolatilityRatio)
	}
	if c.MinVolumeRatio < 0 {
		return fmt.Errorf("min_volume_ratio должен быть >= 0: %f", c.MinVolumeRatio)
	}
	for _, name := range c.DisabledStages {
		stage, err := ParseStage(name)
		if err != nil {
			return err
		}
		if stage == StageConfidenceFloor {
			return fmt.Errorf("Стадию %s нельзя отключить.", stage)
		}
	}
	return nil
}

type StageResult struct {
	Stage  Stage   `json:"stage"`
	Status Status  `json:"status"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail,omitempty"`
}

// Trace фиксированного размера, поэтому две трассы сравниваются через ==.
type Trace [StageCount]StageResult

func (t Trace) FirstFailure() (StageResult, bool) {
	for _, r := range t {
		if r.Status == StatusFailed {
			return r, true
		}
	}
	return StageResult{}, false
}

func (t Trace) Passed(s Stage) bool {
	st := t[s].Status
	return st == StatusPassed || st == StatusDisabled
}

type Signal struct {
	Direction  models.Direction `json:"direction"`
	Candidate  models.Direction `json:"candidate"`
	Confidence float64          `json:"confidence"`
	Trace      Trace            `json:"trace"`
}

type Pipeline struct {
	cfg      Config
	disabled [StageCount]bool
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	for _, name := range cfg.DisabledStages {
		stage, _ := ParseStage(name)
		p.disabled[stage] = true
	}
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// Evaluate чистая функция: один и тот же бар и уверенность всегда дают один и тот же сигнал.
func (p *Pipeline) Evaluate(bar models.Bar, confidence float64) Signal {
	sig := Signal{Direction: models.DirectionNone, Confidence: confidence}
	for i := range sig.Trace {
		sig.Trace[i] = StageResult{Stage: Stage(i), Status: StatusSkipped}
	}

	sig.Trace[StageConfidenceFloor] = p.confidenceFloor(confidence)
	if sig.Trace[StageConfidenceFloor].Status == StatusFailed {
		return sig
	}

	candidate := p.candidate(bar)
	sig.Candidate = candidate

	sig.Trace[StageTrend] = p.run(StageTrend, func() StageResult { return p.trend(bar, candidate) })
	sig.Trace[StageOscillator] = p.run(StageOscillator, func() StageResult { return p.oscillator(bar, candidate) })
	sig.Trace[StageVolatility] = p.run(StageVolatility, func() StageResult { return p.volatility(bar) })
	sig.Trace[StageVolume] = p.run(StageVolume, func() StageResult { return p.volume(bar) })
	sig.Trace[StageConfidenceBand] = p.run(StageConfidenceBand, func() StageResult { return p.confidenceBand(confidence) })

	if candidate == models.DirectionNone {
		return sig
	}
	for i := range sig.Trace {
		if !sig.Trace.Passed(Stage(i)) {
			return sig
		}
	}
	sig.Direction = candidate
	return sig
}

func (p *Pipeline) run(stage Stage, fn func() StageResult) StageResult {
	if p.disabled[stage] {
		return StageResult{Stage: stage, Status: StatusDisabled}
	}
	return fn()
}

func (p *Pipeline) candidate(bar models.Bar) models.Direction {
	dir := bar.Bias
	if dir != models.DirectionLong && dir != models.DirectionShort {
		switch {
		case bar.TrendUp && !bar.TrendDown:
			dir = models.DirectionLong
		case bar.TrendDown && !bar.TrendUp:
			dir = models.DirectionShort
		default:
			dir = models.DirectionNone
		}
	}
	if dir == models.DirectionShort && !p.cfg.AllowShort {
		return models.DirectionNone
	}
	return dir
}

func result(stage Stage, ok bool, value float64, detail string) StageResult {
	status := StatusPassed
	if !ok {
		status = StatusFailed
	}
	return StageResult{Stage: stage, Status: status, Value: value, Detail: detail}
}

func (p *Pipeline) confidenceFloor(confidence float64) StageResult {
	ok := confidence > p.cfg.ConfidenceFloor
	return result(StageConfidenceFloor, ok, confidence, fmt.Sprintf("> %g", p.cfg.ConfidenceFloor))
}

func (p *Pipeline) trend(bar models.Bar, candidate models.Direction) StageResult {
	switch candidate {
	case models.DirectionLong:
		return result(StageTrend, bar.TrendUp && !bar.TrendDown, 1, "trend_up")
	case models.DirectionShort:
		return result(StageTrend, bar.TrendDown && !bar.TrendUp, -1, "trend_down")
	default:
		return result(StageTrend, false, 0, "нет направления")
	}
}

func (p *Pipeline) oscillator(bar models.Bar, candidate models.Direction) StageResult {
	switch candidate {
	case models.DirectionLong:
		return result(StageOscillator, bar.Oscillator < p.cfg.OscillatorOverbought, bar.Oscillator, fmt.Sprintf("< %g", p.cfg.OscillatorOverbought))
	case models.DirectionShort:
		return result(StageOscillator, bar.Oscillator > p.cfg.OscillatorOversold, bar.Oscillator, fmt.Sprintf("> %g", p.cfg.OscillatorOversold))
	default:
		return result(StageOscillator, false, bar.Oscillator, "нет направления")
	}
}

func (p *Pipeline) volatility(bar models.Bar) StageResult {
	if bar.Close <= 0 {
		return result(StageVolatility, false, 0, "close <= 0")
	}
	ratio := bar.ATR / bar.Close
	return result(StageVolatility, ratio < p.cfg.MaxVolatilityRatio, ratio, fmt.Sprintf("< %g", p.cfg.MaxVolatilityRatio))
}

func (p *Pipeline) volume(bar models.Bar) StageResult {
	return result(StageVolume, bar.VolumeRatio > p.cfg.MinVolumeRatio, bar.VolumeRatio, fmt.Sprintf("> %g", p.cfg.MinVolumeRatio))
}

func (p *Pipeline) confidenceBand(confidence float64) StageResult {
	ok := confidence >= p.cfg.BandLow && confidence <= p.cfg.BandHigh
	return result(StageConfidenceBand, ok, confidence, fmt.Sprintf("[%g, %g]", p.cfg.BandLow, p.cfg.BandHigh))
}

// Equal сравнивает трассы побитно, для проверки паритета бэктеста и лайва.
func (t Trace) Equal(o Trace) bool {
	return t == o
}
