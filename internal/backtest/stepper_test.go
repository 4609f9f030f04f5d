package backtest

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"trailbot/internal/decision"
	"trailbot/internal/filter"
	"trailbot/internal/logger"
	"trailbot/internal/models"
	"trailbot/internal/risk"
	"trailbot/internal/strategy"
	"trailbot/internal/trailing"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mkBar(i int, close, confidence float64) models.Bar {
	return models.Bar{
		Timestamp:   t0.Add(time.Duration(i) * time.Hour),
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		Volume:      100,
		TrendUp:     true,
		Oscillator:  50,
		ATR:         2,
		VolumeRatio: 1.5,
		Confidence:  confidence,
	}
}

func newStepper(t *testing.T, mutate func(*decision.Config)) *Stepper {
	t.Helper()
	cfg := decision.Config{
		Filters:  filter.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Trailing: trailing.Config{ProtectionFraction: 0.8},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := decision.New(cfg, strategy.Model{})
	if err != nil {
		t.Fatalf("decider: %v", err)
	}
	s, err := NewStepper(Config{InitialEquity: 10000}, d, logger.Nop())
	if err != nil {
		t.Fatalf("stepper: %v", err)
	}
	return s
}

func TestTrailingStopRatchetsAndClosesOnDip(t *testing.T) {
	var bars []models.Bar
	for i := 1; i <= 10; i++ {
		conf := 0.2
		if i == 3 {
			conf = 0.6
		}
		bars = append(bars, mkBar(i, 98.5+0.5*float64(i), conf))
	}
	bars = append(bars, mkBar(11, 102, 0.2))

	s := newStepper(t, nil)
	stops := map[int]float64{}
	s.Observe(func(ts time.Time, open []models.Position) {
		if len(open) == 1 {
			stops[int(ts.Sub(t0)/time.Hour)] = open[0].StopLoss
		}
	})

	res, err := s.Run(context.Background(), map[string][]models.Bar{"BTCUSDT": bars})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.EntryPrice != 100 || !tr.EntryTime.Equal(bars[2].Timestamp) {
		t.Fatalf("entry = %f at %s", tr.EntryPrice, tr.EntryTime)
	}
	if tr.Reason != models.ExitTrailingStop || tr.ExitPrice != 102 {
		t.Fatalf("exit = %s at %f", tr.Reason, tr.ExitPrice)
	}
	if math.Abs(tr.PnL-50) > 1e-9 {
		t.Fatalf("pnl = %f, want 50", tr.PnL)
	}

	if stops[3] != 96 {
		t.Fatalf("initial stop = %f, want 96", stops[3])
	}
	for i := 4; i <= 10; i++ {
		if !(stops[i] > stops[i-1]) {
			t.Fatalf("stop did not increase at bar %d: %f -> %f", i, stops[i-1], stops[i])
		}
	}
}

func TestSlotLimitAcrossSymbols(t *testing.T) {
	s := newStepper(t, func(c *decision.Config) { c.Risk.MaxConcurrentTrades = 1 })
	series := map[string][]models.Bar{
		"BBB": {mkBar(1, 100, 0.6), mkBar(2, 100.2, 0.2)},
		"AAA": {mkBar(1, 100, 0.6), mkBar(2, 100.2, 0.2)},
	}

	res, err := s.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Diagnostics.Entries != 1 || len(res.OpenPositions) != 1 {
		t.Fatalf("entries = %d, open = %d", res.Diagnostics.Entries, len(res.OpenPositions))
	}
	if res.OpenPositions[0].Symbol != "AAA" {
		t.Fatalf("opened %s, want AAA", res.OpenPositions[0].Symbol)
	}
	if got := res.Diagnostics.RejectedByReason[risk.ReasonSlotLimit]; got != 1 {
		t.Fatalf("slot_limit rejections = %d, want 1", got)
	}
	if rej := res.Diagnostics.Rejected[0]; rej.Symbol != "BBB" || rej.Reason != risk.ReasonSlotLimit {
		t.Fatalf("rejection = %+v", rej)
	}
}

func TestDrawdownBreakerBlocksEntriesButNotExits(t *testing.T) {
	s := newStepper(t, func(c *decision.Config) {
		c.Risk.MaxConcurrentTrades = 2
		c.Risk.RiskFraction = 0.02
		c.Risk.MaxDrawdown = 0.01
	})
	series := map[string][]models.Bar{
		"AAA": {mkBar(1, 100, 0.6), mkBar(2, 95, 0.2), mkBar(3, 95, 0.6), mkBar(4, 95.5, 0.2), mkBar(5, 96, 0.6)},
		"BBB": {mkBar(1, 100, 0.6), mkBar(2, 100, 0.2), mkBar(3, 101, 0.2), mkBar(4, 109, 0.2), mkBar(5, 109, 0.2)},
	}

	res, err := s.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.Diagnostics.RejectedByReason[risk.ReasonDrawdownLimit]; got != 1 {
		t.Fatalf("drawdown rejections = %d, want 1 (%+v)", got, res.Diagnostics.Rejected)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if res.Trades[0].Symbol != "AAA" || res.Trades[0].Reason != models.ExitStopLoss {
		t.Fatalf("first trade = %+v", res.Trades[0])
	}
	if res.Trades[1].Symbol != "BBB" || res.Trades[1].Reason != models.ExitTakeProfit {
		t.Fatalf("exit logic stopped under breaker: %+v", res.Trades[1])
	}
	if res.Diagnostics.Entries != 3 {
		t.Fatalf("entries = %d, want 3 after equity recovered", res.Diagnostics.Entries)
	}
}

func syntheticSeries(n int, phase float64) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		close := 100 + 5*math.Sin(float64(i)/5+phase) + float64(i)*0.05
		conf := 0.2
		if i%7 == 0 {
			conf = 0.6
		}
		b := mkBar(i, close, conf)
		b.ATR = 1.5
		bars = append(bars, b)
	}
	return bars
}

func TestRunIsIdempotent(t *testing.T) {
	series := map[string][]models.Bar{
		"AAA": syntheticSeries(300, 0),
		"BBB": syntheticSeries(300, 1.3),
	}
	s := newStepper(t, nil)

	a, err := s.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := s.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(a.Trades) == 0 {
		t.Fatalf("synthetic series produced no trades")
	}
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Fatalf("trades differ between runs")
	}
	if a.Summary != b.Summary {
		t.Fatalf("summary differs: %+v vs %+v", a.Summary, b.Summary)
	}
	if a.RunID == b.RunID {
		t.Fatalf("run ids must be unique")
	}
}

func TestInvariantsHoldOverRun(t *testing.T) {
	series := map[string][]models.Bar{
		"AAA": syntheticSeries(400, 0),
		"BBB": syntheticSeries(400, 0.7),
		"CCC": syntheticSeries(400, 2.1),
	}
	s := newStepper(t, nil)

	lastStop := map[models.Ticket]float64{}
	s.Observe(func(ts time.Time, open []models.Position) {
		seen := map[string]bool{}
		for _, p := range open {
			if seen[p.Symbol] {
				t.Fatalf("two open positions for %s at %s", p.Symbol, ts)
			}
			seen[p.Symbol] = true

			if prev, ok := lastStop[p.Ticket]; ok {
				if p.Direction == models.DirectionLong && p.StopLoss < prev {
					t.Fatalf("long stop loosened: %f -> %f", prev, p.StopLoss)
				}
				if p.Direction == models.DirectionShort && p.StopLoss > prev {
					t.Fatalf("short stop loosened: %f -> %f", prev, p.StopLoss)
				}
			}
			lastStop[p.Ticket] = p.StopLoss
		}
	})

	res, err := s.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Diagnostics.InvariantViolations != 0 {
		t.Fatalf("invariant violations = %d", res.Diagnostics.InvariantViolations)
	}
	if res.Summary.WinRate < 0 || res.Summary.WinRate > 1 {
		t.Fatalf("win rate = %f", res.Summary.WinRate)
	}
}

func TestRiskCapPerEntry(t *testing.T) {
	s := newStepper(t, nil)
	rf := risk.DefaultConfig().RiskFraction

	res, err := s.Run(context.Background(), map[string][]models.Bar{"AAA": syntheticSeries(300, 0)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// капитал на входе равен точке кривой предыдущего бара: открытых позиций на входе нет
	equityAt := map[time.Time]float64{}
	prev := res.InitialEquity
	for _, p := range res.Equity {
		equityAt[p.Time] = prev
		prev = p.Equity
	}
	for _, tr := range res.Trades {
		stopDist := 1.5 * risk.DefaultConfig().StopATRMultiple
		if tr.Quantity*stopDist > equityAt[tr.EntryTime]*rf*(1+1e-9) {
			t.Fatalf("risk cap exceeded: qty=%f equity=%f", tr.Quantity, equityAt[tr.EntryTime])
		}
	}
}

func TestMalformedBarsAreSkipped(t *testing.T) {
	nan := mkBar(4, 101, 0.2)
	nan.ATR = math.NaN()
	bars := []models.Bar{
		mkBar(1, 100, 0.6),
		mkBar(2, 100.5, 0.2),
		mkBar(2, 50, 0.2), // повтор времени
		nan,
		mkBar(5, 101, 0.2),
	}

	s := newStepper(t, nil)
	res, err := s.Run(context.Background(), map[string][]models.Bar{"AAA": bars})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Diagnostics.SkippedBars != 2 || res.Diagnostics.BarsProcessed != 3 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	if len(res.Trades) != 0 || len(res.OpenPositions) != 1 {
		t.Fatalf("position state corrupted: trades=%v open=%v", res.Trades, res.OpenPositions)
	}
	if res.OpenPositions[0].StopLoss < 96 {
		t.Fatalf("stop = %f", res.OpenPositions[0].StopLoss)
	}
}

func TestRunIsolatedMatchesSingleSymbolRuns(t *testing.T) {
	series := map[string][]models.Bar{
		"AAA": syntheticSeries(200, 0),
		"BBB": syntheticSeries(200, 1.1),
	}
	s := newStepper(t, nil)

	isolated, err := s.RunIsolated(context.Background(), series, 2)
	if err != nil {
		t.Fatalf("isolated: %v", err)
	}
	for sym, bars := range series {
		single, err := s.Run(context.Background(), map[string][]models.Bar{sym: bars})
		if err != nil {
			t.Fatalf("run %s: %v", sym, err)
		}
		if !reflect.DeepEqual(single.Trades, isolated[sym].Trades) {
			t.Fatalf("%s: isolated trades differ", sym)
		}
	}
}

func TestRunHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newStepper(t, nil)
	if _, err := s.Run(ctx, map[string][]models.Bar{"AAA": syntheticSeries(10, 0)}); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}
