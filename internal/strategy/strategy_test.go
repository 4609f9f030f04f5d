package strategy

import (
	"math"
	"testing"

	"trailbot/internal/filter"
	"trailbot/internal/models"
)

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		s, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if s.Name() != name {
			t.Fatalf("lookup %s returned %s", name, s.Name())
		}
		if s.Lookback() < 1 {
			t.Fatalf("%s lookback = %d", name, s.Lookback())
		}
	}
	if _, err := Lookup("nope"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestModelPassesConfidenceThrough(t *testing.T) {
	m := Model{}
	window := []models.Bar{{Confidence: 0.1}, {Confidence: 0.62}}
	if got := m.Confidence(window); got != 0.62 {
		t.Fatalf("confidence = %f, want 0.62", got)
	}
	if got := m.Confidence([]models.Bar{{Confidence: math.NaN()}}); got != 0 {
		t.Fatalf("NaN confidence = %f, want 0", got)
	}
	if got := m.Confidence(nil); got != 0 {
		t.Fatalf("empty window = %f", got)
	}
}

func TestTrendScore(t *testing.T) {
	s := NewTrendScore(4)
	up := models.Bar{TrendUp: true, Oscillator: 40, VolumeRatio: 2}
	window := []models.Bar{{TrendDown: true}, up, up, up, up}

	// окно обрезается до 4 свечей, все согласны: 0.5 + 0.6*0.25 + 1*0.25
	want := 0.5 + 0.15 + 0.25
	if got := s.Confidence(window); math.Abs(got-want) > 1e-12 {
		t.Fatalf("confidence = %f, want %f", got, want)
	}

	flat := []models.Bar{{TrendUp: true, TrendDown: true}}
	if got := s.Confidence(flat); got != 0 {
		t.Fatalf("ambiguous trend = %f, want 0", got)
	}

	a := s.Confidence(window)
	b := s.Confidence(window)
	if a != b {
		t.Fatalf("non-deterministic: %v vs %v", a, b)
	}
}

func TestTrendScoreDisablesOscillatorGate(t *testing.T) {
	base := filter.DefaultConfig()
	cfg := NewTrendScore(10).Filters(base)
	if len(cfg.DisabledStages) != 1 || cfg.DisabledStages[0] != "oscillator" {
		t.Fatalf("disabled = %v", cfg.DisabledStages)
	}
	if len(base.DisabledStages) != 0 {
		t.Fatalf("base config mutated")
	}
	again := NewTrendScore(10).Filters(cfg)
	if len(again.DisabledStages) != 1 {
		t.Fatalf("stage disabled twice: %v", again.DisabledStages)
	}
}
