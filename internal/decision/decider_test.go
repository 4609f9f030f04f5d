package decision

import (
	"testing"
	"time"

	"trailbot/internal/filter"
	"trailbot/internal/models"
	"trailbot/internal/risk"
	"trailbot/internal/strategy"
	"trailbot/internal/trailing"
)

func testConfig() Config {
	return Config{
		Filters:  filter.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Trailing: trailing.Config{ProtectionFraction: 0.8},
	}
}

func longBar(close float64) models.Bar {
	return models.Bar{
		Symbol:      "BTCUSDT",
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		TrendUp:     true,
		Oscillator:  50,
		ATR:         2,
		VolumeRatio: 1.5,
		Confidence:  0.6,
	}
}

func TestEnterBuildsPosition(t *testing.T) {
	d, err := New(testConfig(), strategy.Model{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	bar := longBar(100)
	sig := d.Evaluate([]models.Bar{bar})
	if sig.Direction != models.DirectionLong {
		t.Fatalf("signal = %s, trace %+v", sig.Direction, sig.Trace)
	}

	entry := d.Enter(EntryRequest{
		Symbol:  "BTCUSDT",
		Signal:  sig,
		Bar:     bar,
		Account: models.NewAccountState(10000),
	})
	if !entry.Decision.Approved {
		t.Fatalf("rejected: %+v", entry.Decision.Rejection)
	}
	p := entry.Position
	if p.StopLoss != 96 || p.InitialStopLoss != 96 || p.TakeProfit != 108 {
		t.Fatalf("levels: stop=%f take=%f", p.StopLoss, p.TakeProfit)
	}
	if p.Quantity != 25 {
		t.Fatalf("qty = %f, want 25", p.Quantity)
	}
	if p.ProtectionFrac != 0.8 || p.BestPrice != 100 {
		t.Fatalf("trailing fields not set: %+v", p)
	}
}

func TestEnterRejectsSlotLimit(t *testing.T) {
	d, _ := New(testConfig(), strategy.Model{})
	bar := longBar(100)
	entry := d.Enter(EntryRequest{
		Symbol:    "BTCUSDT",
		Signal:    d.Evaluate([]models.Bar{bar}),
		Bar:       bar,
		Account:   models.NewAccountState(10000),
		OpenCount: 3,
	})
	if entry.Decision.Approved || entry.Decision.Rejection.Reason != risk.ReasonSlotLimit {
		t.Fatalf("decision = %+v", entry.Decision)
	}
}

func TestManageExitOnReverse(t *testing.T) {
	cfg := testConfig()
	cfg.ExitOnReverse = true
	d, _ := New(cfg, strategy.Model{})

	p := &models.Position{
		Symbol: "BTCUSDT", Direction: models.DirectionLong, Status: models.PositionOpen,
		EntryPrice: 100, Quantity: 1, InitialStopLoss: 96, StopLoss: 96, TakeProfit: 108,
		BestPrice: 100, ProtectionFrac: 0.8,
	}
	short := filter.Signal{Direction: models.DirectionShort}
	u := d.Manage(p, 100.5, short)
	if !u.Close || u.Reason != models.ExitStrategySignal {
		t.Fatalf("update = %+v", u)
	}

	cfg.ExitOnReverse = false
	d, _ = New(cfg, strategy.Model{})
	if u := d.Manage(p, 100.5, short); u.Close {
		t.Fatalf("reverse exit must be off: %+v", u)
	}
}

func TestEvaluateUsesLookbackWindow(t *testing.T) {
	d, _ := New(testConfig(), strategy.NewTrendScore(2))
	down := longBar(100)
	down.TrendUp, down.TrendDown = false, true
	up := longBar(100)

	a := d.Evaluate([]models.Bar{down, down, up, up})
	b := d.Evaluate([]models.Bar{up, up})
	if a.Confidence != b.Confidence || !a.Trace.Equal(b.Trace) {
		t.Fatalf("window not trimmed: %v vs %v", a.Confidence, b.Confidence)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Trailing.ProtectionFraction = 1.5
	if _, err := New(cfg, strategy.Model{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil strategy")
	}
}
