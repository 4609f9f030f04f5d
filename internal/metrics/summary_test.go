package metrics

import (
	"math"
	"testing"
	"time"

	"trailbot/internal/models"
)

func curve(values ...float64) []EquityPoint {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Time: t0.Add(time.Duration(i) * time.Hour), Equity: v}
	}
	return out
}

func TestSummarize(t *testing.T) {
	trades := []models.ClosedTrade{{PnL: 30}, {PnL: -10}, {PnL: 20}, {PnL: -10}, {PnL: 0}}
	s := Summarize(trades, curve(1000, 1030, 1020, 1040, 1030, 1030), 1000)

	if s.TotalTrades != 5 || s.Wins != 2 || s.Losses != 2 {
		t.Fatalf("counts = %+v", s)
	}
	if s.WinRate != 0.4 {
		t.Fatalf("win rate = %f, want 0.4", s.WinRate)
	}
	if s.ProfitFactor != 2.5 || s.ProfitFactorInfinite {
		t.Fatalf("profit factor = %f", s.ProfitFactor)
	}
	if s.AvgWin != 25 || s.AvgLoss != 10 {
		t.Fatalf("avg win/loss = %f/%f", s.AvgWin, s.AvgLoss)
	}
	if s.TotalPnL != 30 || s.Expectancy != 6 {
		t.Fatalf("pnl = %f expectancy = %f", s.TotalPnL, s.Expectancy)
	}
	if math.Abs(s.Return-0.03) > 1e-12 {
		t.Fatalf("return = %f", s.Return)
	}
}

func TestRatesAreFractions(t *testing.T) {
	for _, trades := range [][]models.ClosedTrade{
		nil,
		{{PnL: 5}},
		{{PnL: -5}},
		{{PnL: 5}, {PnL: 5}, {PnL: -1}},
	} {
		s := Summarize(trades, curve(100, 50, 200, 10), 100)
		if s.WinRate < 0 || s.WinRate > 1 {
			t.Fatalf("win rate %f out of [0,1]", s.WinRate)
		}
		if s.MaxDrawdown < 0 || s.MaxDrawdown > 1 {
			t.Fatalf("drawdown %f out of [0,1]", s.MaxDrawdown)
		}
	}
}

func TestProfitFactorInfinite(t *testing.T) {
	s := Summarize([]models.ClosedTrade{{PnL: 10}}, nil, 100)
	if !s.ProfitFactorInfinite || s.ProfitFactor != 0 {
		t.Fatalf("summary = %+v", s)
	}
	s = Summarize(nil, nil, 100)
	if s.ProfitFactorInfinite {
		t.Fatalf("no trades must not be infinite")
	}
}

func TestMaxDrawdown(t *testing.T) {
	dd := MaxDrawdown(curve(100, 120, 90, 110, 60, 130))
	if math.Abs(dd-0.5) > 1e-12 {
		t.Fatalf("drawdown = %f, want 0.5", dd)
	}
	if MaxDrawdown(nil) != 0 {
		t.Fatalf("empty curve drawdown must be 0")
	}
}
