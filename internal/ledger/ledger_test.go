package ledger

import (
	"errors"
	"testing"
	"time"

	"trailbot/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func longPos(symbol string) models.Position {
	return models.Position{
		Symbol:          symbol,
		Direction:       models.DirectionLong,
		EntryPrice:      100,
		EntryTime:       t0,
		Quantity:        2,
		InitialStopLoss: 96,
		StopLoss:        96,
		TakeProfit:      108,
	}
}

func TestOpenEnforcesLimits(t *testing.T) {
	l := New(Config{MaxOpen: 2, OnePerSymbol: true})

	if _, err := l.Open(longPos("BTCUSDT")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Open(longPos("BTCUSDT")); !errors.Is(err, ErrSymbolLimit) {
		t.Fatalf("expected ErrSymbolLimit, got %v", err)
	}
	if _, err := l.Open(longPos("ETHUSDT")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Open(longPos("SOLUSDT")); !errors.Is(err, ErrSlotLimit) {
		t.Fatalf("expected ErrSlotLimit, got %v", err)
	}
	if got := l.OpenCount(); got != 2 {
		t.Fatalf("open count = %d, want 2", got)
	}
}

func TestCloseComputesPnLAndFreesSlot(t *testing.T) {
	l := New(Config{MaxOpen: 1, OnePerSymbol: true})
	ticket, err := l.Open(longPos("BTCUSDT"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	trade, err := l.Close(ticket, 105, t0.Add(time.Hour), models.ExitTakeProfit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if trade.PnL != 10 {
		t.Fatalf("pnl = %f, want 10", trade.PnL)
	}
	if trade.Reason != models.ExitTakeProfit {
		t.Fatalf("reason = %s", trade.Reason)
	}
	if _, err := l.Close(ticket, 105, t0, models.ExitTakeProfit); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("double close: expected ErrNotOpen, got %v", err)
	}
	if _, err := l.Close(99, 105, t0, models.ExitTakeProfit); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}
	if l.HasOpen("BTCUSDT") {
		t.Fatalf("symbol still open after close")
	}
	if _, err := l.Open(longPos("BTCUSDT")); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestUpdateKeepsIdentity(t *testing.T) {
	l := New(Config{MaxOpen: 1})
	ticket, _ := l.Open(longPos("BTCUSDT"))

	err := l.Update(ticket, func(p *models.Position) {
		p.StopLoss = 99
		p.Symbol = "ETHUSDT"
		p.Status = models.PositionClosed
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	p, ok := l.Get(ticket)
	if !ok {
		t.Fatalf("ticket lost")
	}
	if p.StopLoss != 99 || p.Symbol != "BTCUSDT" || !p.IsOpen() {
		t.Fatalf("unexpected position after update: %+v", p)
	}
}

func TestShortPnL(t *testing.T) {
	l := New(Config{MaxOpen: 1})
	p := longPos("BTCUSDT")
	p.Direction = models.DirectionShort
	ticket, _ := l.Open(p)
	trade, _ := l.Close(ticket, 95, t0, models.ExitTakeProfit)
	if trade.PnL != 10 {
		t.Fatalf("short pnl = %f, want 10", trade.PnL)
	}
}

func TestReconcileClosesMissingAndBlocksUntilCleanTick(t *testing.T) {
	l := New(Config{MaxOpen: 3, OnePerSymbol: true})
	if _, err := l.Open(longPos("BTCUSDT")); err != nil {
		t.Fatalf("open: %v", err)
	}

	report := l.Reconcile(nil, map[string]float64{"BTCUSDT": 101}, t0.Add(time.Minute))
	if len(report.Closed) != 1 || report.Closed[0].Reason != models.ExitReconciled {
		t.Fatalf("expected one reconciled close, got %+v", report.Closed)
	}
	if report.Closed[0].ExitPrice != 101 {
		t.Fatalf("exit price = %f, want mark 101", report.Closed[0].ExitPrice)
	}
	if report.Clean() {
		t.Fatalf("report must carry a conflict")
	}
	if l.OpenCount() != 0 {
		t.Fatalf("position still open after reconcile")
	}
	if err := l.CanOpen("BTCUSDT"); !errors.Is(err, ErrSymbolBlocked) {
		t.Fatalf("expected entry refused on conflicted tick, got %v", err)
	}

	report = l.Reconcile(nil, nil, t0.Add(2*time.Minute))
	if !report.Clean() {
		t.Fatalf("second tick should be clean: %+v", report.Conflicts)
	}
	if err := l.CanOpen("BTCUSDT"); err != nil {
		t.Fatalf("entry should be allowed after clean tick: %v", err)
	}
}

func TestReconcileBlocksUntrackedExternal(t *testing.T) {
	l := New(Config{MaxOpen: 3, OnePerSymbol: true})
	ext := []models.ExternalPosition{{Symbol: "ETHUSDT", Direction: models.DirectionShort, Quantity: 1}}

	report := l.Reconcile(ext, nil, t0)
	if len(report.Blocked) != 1 || report.Blocked[0] != "ETHUSDT" {
		t.Fatalf("blocked = %v", report.Blocked)
	}
	if _, err := l.Open(longPos("ETHUSDT")); !errors.Is(err, ErrSymbolBlocked) {
		t.Fatalf("expected ErrSymbolBlocked, got %v", err)
	}

	l.Reconcile(nil, nil, t0.Add(time.Minute))
	if _, err := l.Open(longPos("ETHUSDT")); err != nil {
		t.Fatalf("open after external closed: %v", err)
	}
}

func TestReconcileResolvesPendingClose(t *testing.T) {
	l := New(Config{MaxOpen: 3, OnePerSymbol: true})
	ticket, _ := l.Open(longPos("BTCUSDT"))
	_ = l.Update(ticket, func(p *models.Position) {
		p.PendingClose = true
		p.PendingReason = models.ExitStopLoss
		p.PendingPrice = 96
	})

	report := l.Reconcile(nil, nil, t0)
	if !report.Clean() {
		t.Fatalf("pending close is not a conflict: %+v", report.Conflicts)
	}
	if len(report.Resolved) != 1 || report.Resolved[0].Reason != models.ExitStopLoss {
		t.Fatalf("resolved = %+v", report.Resolved)
	}
	if report.Resolved[0].PnL != -8 {
		t.Fatalf("pnl = %f, want -8", report.Resolved[0].PnL)
	}
}

func TestReconcileMatchingStateIsClean(t *testing.T) {
	l := New(Config{MaxOpen: 3, OnePerSymbol: true})
	_, _ = l.Open(longPos("BTCUSDT"))
	ext := []models.ExternalPosition{{Symbol: "BTCUSDT", Direction: models.DirectionLong, Quantity: 2}}

	report := l.Reconcile(ext, nil, t0)
	if !report.Clean() || l.OpenCount() != 1 {
		t.Fatalf("matching state should be untouched: %+v", report)
	}
}

func TestReconcileDirectionMismatch(t *testing.T) {
	l := New(Config{MaxOpen: 3, OnePerSymbol: true})
	_, _ = l.Open(longPos("BTCUSDT"))
	ext := []models.ExternalPosition{{Symbol: "BTCUSDT", Direction: models.DirectionShort, Quantity: 2}}

	report := l.Reconcile(ext, nil, t0)
	if len(report.Conflicts) != 1 || report.Conflicts[0].Kind != ConflictDirection {
		t.Fatalf("conflicts = %+v", report.Conflicts)
	}
	if l.HasOpen("BTCUSDT") {
		t.Fatalf("mismatched local position must be closed")
	}
	if err := l.CanOpen("BTCUSDT"); !errors.Is(err, ErrSymbolBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
}
