package engine

import (
	"context"

	"trailbot/internal/models"
)

// reconcile сверяет ledger с позициями биржи. Без успешной сверки входы на тике не делаются.
func (e *Engine) reconcile(ctx context.Context, rep *TickReport) bool {
	external, err := withRetry(ctx, e.cfg.Retry, e.logEntry(), "positions", func(ctx context.Context) ([]models.ExternalPosition, error) {
		return e.adapter.GetOpenPositions(ctx)
	})
	if err != nil {
		e.fail(rep, "positions", "", err)
		return false
	}

	e.adoptPendingEntries(external)

	marks := make(map[string]float64, len(e.symbols))
	for sym, st := range e.symbols {
		if st.lastPrice > 0 {
			marks[sym] = st.lastPrice
		}
	}

	report := e.ledger.Reconcile(external, marks, e.now())
	for _, trade := range report.Resolved {
		e.settle(trade)
		rep.Closed = append(rep.Closed, trade)
	}
	for _, trade := range report.Closed {
		e.settle(trade)
		rep.Closed = append(rep.Closed, trade)
	}
	for _, c := range report.Conflicts {
		e.symbolEntry(c.Symbol).WithFields(map[string]interface{}{
			"kind":   c.Kind,
			"detail": c.Detail,
		}).Warn("Расхождение со сверкой, ledger приведён к состоянию биржи.")
	}
	rep.Conflicts = report.Conflicts
	e.refreshRisk()
	return true
}

// adoptPendingEntries разрешает входы с неизвестным исходом: если биржа показывает позицию
// в ожидаемом направлении, она заносится в ledger, иначе вход считается несостоявшимся.
func (e *Engine) adoptPendingEntries(external []models.ExternalPosition) {
	bySymbol := make(map[string]models.ExternalPosition, len(external))
	for _, p := range external {
		bySymbol[p.Symbol] = p
	}

	for _, sym := range e.order {
		st := e.symbols[sym]
		if st.pendingEntry == nil {
			continue
		}
		pending := *st.pendingEntry
		st.pendingEntry = nil

		ext, ok := bySymbol[sym]
		if !ok || ext.Direction != pending.Direction || e.ledger.HasOpen(sym) {
			e.symbolEntry(sym).WithField("link_id", pending.OrderLinkID).Info("Вход не подтверждён биржей.")
			continue
		}

		pending.Quantity = ext.Quantity
		pending.RiskAmount = ext.Quantity * pending.StopDistance()
		shiftLevels(&pending, ext.EntryPrice)
		pending.EntryTime = e.now()

		ticket, err := e.ledger.Open(pending)
		if err != nil {
			e.symbolEntry(sym).WithError(err).Warn("Не удалось принять подтверждённый вход в ledger.")
			continue
		}
		e.log.WithTicket(uint64(ticket)).WithFields(map[string]interface{}{
			"symbol": sym,
			"qty":    pending.Quantity,
			"entry":  pending.EntryPrice,
		}).Info("Вход подтверждён сверкой.")
	}
}
