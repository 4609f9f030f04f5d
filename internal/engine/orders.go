package engine

import (
	"context"

	"trailbot/internal/decision"
	"trailbot/internal/exchange"
	"trailbot/internal/models"
)

// place размещает ордер с повторами. Повтор идёт с тем же orderLinkId, поэтому ответ
// о дубликате означает, что ордер уже принят.
func (e *Engine) place(ctx context.Context, order models.Order) (models.OrderAck, error) {
	ack, err := withRetry(ctx, e.cfg.Retry, e.symbolEntry(order.Symbol), "order", func(ctx context.Context) (models.OrderAck, error) {
		return e.adapter.PlaceOrder(ctx, order)
	})
	if err != nil && exchange.IsDuplicateLinkID(err) {
		e.symbolEntry(order.Symbol).WithField("link_id", order.LinkID).Info("Ордер уже принят биржей, повтор не нужен.")
		return models.OrderAck{LinkID: order.LinkID, Price: e.symbols[order.Symbol].lastPrice, Time: e.now()}, nil
	}
	return ack, err
}

func (e *Engine) openPosition(ctx context.Context, v *symbolView, entry decision.Entry, rep *TickReport) {
	pos := entry.Position
	rules := e.rules[v.symbol]

	qty := RoundDown(pos.Quantity, rules.QtyStep)
	if qty <= 0 || qty < rules.MinQty {
		e.symbolEntry(v.symbol).WithFields(map[string]interface{}{
			"qty":     pos.Quantity,
			"rounded": qty,
			"min_qty": rules.MinQty,
		}).Warn("Объём меньше минимального, вход пропущен.")
		return
	}
	pos.Quantity = qty
	pos.RiskAmount = qty * entry.Decision.Approval.StopDistance
	pos.OrderLinkID = e.linkID("o")

	order := models.Order{
		LinkID:   pos.OrderLinkID,
		Symbol:   v.symbol,
		Side:     pos.Direction.EntrySide(),
		Quantity: qty,
		QtyStep:  rules.QtyStep,
	}
	ack, err := e.place(ctx, order)
	if err != nil {
		e.fail(rep, "order", v.symbol, err)
		if exchange.IsTransient(err) {
			pending := pos
			v.state.pendingEntry = &pending
			e.symbolEntry(v.symbol).WithField("link_id", order.LinkID).Warn("Исход входа неизвестен, ждём сверки.")
		}
		return
	}

	shiftLevels(&pos, ack.Price)
	pos.EntryTime = e.nowOr(ack.Time)

	ticket, err := e.ledger.Open(pos)
	if err != nil {
		e.symbolEntry(v.symbol).WithError(err).Error("Ордер исполнен, но ledger отказал в открытии; позиция будет заблокирована сверкой.")
		return
	}
	e.refreshRisk()
	rep.Opened = append(rep.Opened, ticket)

	e.log.WithTicket(uint64(ticket)).WithFields(map[string]interface{}{
		"symbol":    v.symbol,
		"direction": pos.Direction,
		"entry":     pos.EntryPrice,
		"qty":       pos.Quantity,
		"stop":      pos.StopLoss,
		"take":      pos.TakeProfit,
		"link_id":   pos.OrderLinkID,
	}).Info("Позиция открыта.")
}

// closePosition закрывает позицию reduce-only ордером. При любом сбое позиция помечается
// PendingClose и остаётся в ledger до подтверждения сверкой.
func (e *Engine) closePosition(ctx context.Context, p models.Position, reason models.ExitReason, price float64, rep *TickReport) {
	order := models.Order{
		LinkID:     e.linkID("c"),
		Symbol:     p.Symbol,
		Side:       p.Direction.ExitSide(),
		Quantity:   p.Quantity,
		ReduceOnly: true,
		QtyStep:    e.rules[p.Symbol].QtyStep,
	}
	ack, err := e.place(ctx, order)
	if err != nil {
		e.fail(rep, "order", p.Symbol, err)
		_ = e.ledger.Update(p.Ticket, func(pos *models.Position) {
			pos.PendingClose = true
			pos.PendingReason = reason
			pos.PendingPrice = price
			if pos.PendingCloseSince.IsZero() {
				pos.PendingCloseSince = e.now()
			}
		})
		e.log.WithTicket(uint64(p.Ticket)).WithFields(map[string]interface{}{
			"symbol":  p.Symbol,
			"reason":  reason,
			"link_id": order.LinkID,
		}).Warn("Исход закрытия неизвестен, ждём сверки.")
		return
	}

	exit := ack.Price
	if exit <= 0 {
		exit = price
	}
	trade, err := e.ledger.Close(p.Ticket, exit, e.nowOr(ack.Time), reason)
	if err != nil {
		e.log.WithTicket(uint64(p.Ticket)).WithError(err).Error("Не удалось закрыть позицию в ledger.")
		return
	}
	e.settle(trade)
	rep.Closed = append(rep.Closed, trade)
}
