package engine

import (
	"context"
	"errors"
	"time"

	"trailbot/internal/decision"
	"trailbot/internal/filter"
	"trailbot/internal/ledger"
	"trailbot/internal/models"
	"trailbot/internal/risk"
	"trailbot/internal/trailing"
)

// TickReport итог одного тика.
type TickReport struct {
	Reconciled bool
	Conflicts  []ledger.Conflict
	Closed     []models.ClosedTrade
	Opened     []models.Ticket
	Rejected   []risk.Rejection
	Failures   int
}

type symbolView struct {
	symbol string
	state  *symbolState
	price  float64
	bar    models.Bar
	hasBar bool
	signal filter.Signal
	closed bool
}

// Tick один проход живого цикла. Порядок тот же, что у бэктеста внутри группы свечей:
// выходы по всем символам, затем входы по символам в алфавитном порядке.
func (e *Engine) Tick(ctx context.Context) TickReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rep TickReport
	e.ticks++

	rep.Reconciled = e.reconcile(ctx, &rep)

	views := make([]*symbolView, 0, len(e.order))
	for _, sym := range e.order {
		if v := e.observe(ctx, sym, &rep); v != nil {
			views = append(views, v)
		}
	}

	for _, v := range views {
		e.manage(ctx, v, &rep)
	}
	e.account.Equity = e.equity()

	switch {
	case !rep.Reconciled:
		e.logEntry().Debug("Сверка не выполнена, входы на этом тике пропущены.")
	case e.breaker.Halted():
		e.logEntry().WithField("failures", e.breaker.Consecutive()).Warn("Входы остановлены из-за сбоев биржи.")
	default:
		for _, v := range views {
			e.tryEntry(ctx, v, &rep)
		}
	}

	e.account.Mark(e.equity())

	if rep.Failures == 0 && e.breaker.Clean() {
		e.logEntry().Info("Чистый тик, входы возобновлены.")
	}
	return rep
}

func (e *Engine) observe(ctx context.Context, sym string, rep *TickReport) *symbolView {
	st := e.symbols[sym]
	v := &symbolView{symbol: sym, state: st, signal: filter.Signal{Direction: models.DirectionNone}}

	window, err := e.feed.Window(ctx, sym, e.decider.Lookback())
	if err != nil {
		e.symbolEntry(sym).WithError(err).Warn("Нет свечей, входы по символу пропущены.")
	} else if len(window) > 0 {
		v.bar = window[len(window)-1]
		v.hasBar = true
		v.signal = e.decider.Evaluate(window)
		if v.bar.Timestamp.After(st.lastBar) {
			st.lastBar = v.bar.Timestamp
		}
	}

	price, err := withRetry(ctx, e.cfg.Retry, e.symbolEntry(sym), "price", func(ctx context.Context) (float64, error) {
		return e.adapter.GetCurrentPrice(ctx, sym)
	})
	if err != nil {
		e.fail(rep, "price", sym, err)
		return nil
	}
	v.price = price
	st.lastPrice = price
	return v
}

// manage прогоняет трейлинг по каждой открытой позиции символа на текущей цене.
func (e *Engine) manage(ctx context.Context, v *symbolView, rep *TickReport) {
	for _, p := range e.ledger.OpenPositions(v.symbol) {
		if p.PendingClose {
			e.closePosition(ctx, p, p.PendingReason, v.price, rep)
			v.closed = true
			continue
		}

		var upd trailing.Update
		if err := e.ledger.Update(p.Ticket, func(pos *models.Position) {
			upd = e.decider.Manage(pos, v.price, v.signal)
		}); err != nil {
			continue
		}
		if upd.Ratcheted {
			e.log.WithTicket(uint64(p.Ticket)).WithFields(map[string]interface{}{
				"symbol":    v.symbol,
				"prev_stop": upd.PrevStop,
				"stop":      upd.Stop,
				"price":     v.price,
			}).Debug("Стоп подтянут.")
		}
		if upd.Close {
			e.closePosition(ctx, p, upd.Reason, v.price, rep)
			v.closed = true
		}
	}
	if v.closed && v.hasBar {
		v.state.lastAttempt = v.bar.Timestamp
	}
}

func (e *Engine) tryEntry(ctx context.Context, v *symbolView, rep *TickReport) {
	st := v.state
	if !v.hasBar || v.closed || !v.bar.Timestamp.After(st.lastAttempt) {
		return
	}

	sig := v.signal
	if sig.Direction == models.DirectionNone {
		return
	}
	if st.pendingEntry != nil {
		e.symbolEntry(v.symbol).Debug("Предыдущий вход ждёт сверки.")
		return
	}

	symbolOpen := e.ledger.HasOpen(v.symbol)
	if symbolOpen && e.decider.RiskConfig().OneTradePerSymbol {
		return
	}
	if err := e.ledger.CanOpen(v.symbol); errors.Is(err, ledger.ErrSymbolBlocked) {
		e.symbolEntry(v.symbol).Warn("Символ заблокирован сверкой, вход пропущен до чистого тика.")
		return
	}
	// попыткой считается только дошедший до сайзера вход
	st.lastAttempt = v.bar.Timestamp

	entry := e.decider.Enter(decision.EntryRequest{
		Symbol:     v.symbol,
		Signal:     sig,
		Bar:        v.bar,
		Account:    e.account,
		OpenCount:  e.ledger.OpenCount(),
		SymbolOpen: symbolOpen,
		History:    e.trades,
	})
	if !entry.Decision.Approved {
		rep.Rejected = append(rep.Rejected, entry.Decision.Rejection)
		e.symbolEntry(v.symbol).WithFields(map[string]interface{}{
			"reason": entry.Decision.Rejection.Reason,
			"detail": entry.Decision.Rejection.Detail,
		}).Info("Вход отклонён.")
		return
	}

	e.openPosition(ctx, v, entry, rep)
}

// nowOr время для записей ledger.
func (e *Engine) nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}
