package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"trailbot/internal/exchange"
	"trailbot/internal/models"
)

type Op string

const (
	OpPrice     Op = "price"
	OpOrder     Op = "order"
	OpPositions Op = "positions"
)

// PriceSource внешний источник цен для бумажной торговли.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type failure struct {
	err       error
	afterFill bool
}

// Exchange бумажная биржа в памяти: исполняет рыночные ордера по последней известной цене
// и ведёт нетто-позиции по символам. Сбои можно внедрять для проверки живого цикла.
type Exchange struct {
	mu        sync.Mutex
	source    PriceSource
	prices    map[string]float64
	positions map[string]models.ExternalPosition
	acks      map[string]models.OrderAck
	orders    []models.Order
	failures  map[Op][]failure
	seq       int
	now       func() time.Time
}

func New(source PriceSource) *Exchange {
	return &Exchange{
		source:    source,
		prices:    map[string]float64{},
		positions: map[string]models.ExternalPosition{},
		acks:      map[string]models.OrderAck{},
		failures:  map[Op][]failure{},
		now:       time.Now,
	}
}

var _ exchange.Adapter = (*Exchange)(nil)

func (p *Exchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// Fail следующие times вызовов op вернут err.
func (p *Exchange) Fail(op Op, err error, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < times; i++ {
		p.failures[op] = append(p.failures[op], failure{err: err})
	}
}

// FailAfterFill следующий ордер исполнится, но вызов вернёт err: исход для клиента неизвестен.
func (p *Exchange) FailAfterFill(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[OpOrder] = append(p.failures[OpOrder], failure{err: err, afterFill: true})
}

// ClosePosition закрывает позицию в обход клиента, как ликвидация или ручное закрытие.
func (p *Exchange) ClosePosition(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, symbol)
}

// OpenPosition открывает позицию в обход клиента.
func (p *Exchange) OpenPosition(pos models.ExternalPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Symbol] = pos
}

func (p *Exchange) Orders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Order(nil), p.orders...)
}

func (p *Exchange) popFailure(op Op) (failure, bool) {
	q := p.failures[op]
	if len(q) == 0 {
		return failure{}, false
	}
	p.failures[op] = q[1:]
	return q[0], true
}

func (p *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	if f, ok := p.popFailure(OpPrice); ok {
		p.mu.Unlock()
		return 0, f.err
	}
	source := p.source
	p.mu.Unlock()

	if source != nil {
		px, err := source.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return 0, err
		}
		p.SetPrice(symbol, px)
		return px, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[symbol]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("Нет цены для %s.", symbol)
	}
	return px, nil
}

func (p *Exchange) GetOpenPositions(ctx context.Context) ([]models.ExternalPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.popFailure(OpPositions); ok {
		return nil, f.err
	}
	out := make([]models.ExternalPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Exchange) PlaceOrder(ctx context.Context, order models.Order) (models.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderAck{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	f, failed := p.popFailure(OpOrder)
	if failed && !f.afterFill {
		return models.OrderAck{}, f.err
	}
	if order.LinkID != "" {
		if _, ok := p.acks[order.LinkID]; ok {
			return models.OrderAck{}, &exchange.APIError{Code: 110072, Msg: "OrderLinkedID is duplicate"}
		}
	}
	if order.Quantity <= 0 {
		return models.OrderAck{}, &exchange.APIError{Code: 10001, Msg: "qty must be positive"}
	}
	px, ok := p.prices[order.Symbol]
	if !ok || px <= 0 {
		return models.OrderAck{}, &exchange.APIError{Code: 10001, Msg: "no price for " + order.Symbol}
	}

	if err := p.apply(order, px); err != nil {
		return models.OrderAck{}, err
	}

	p.seq++
	ack := models.OrderAck{
		OrderID: fmt.Sprintf("paper-%d", p.seq),
		LinkID:  order.LinkID,
		Price:   px,
		Time:    p.now(),
	}
	p.orders = append(p.orders, order)
	if order.LinkID != "" {
		p.acks[order.LinkID] = ack
	}
	if failed {
		return models.OrderAck{}, f.err
	}
	return ack, nil
}

func (p *Exchange) apply(order models.Order, px float64) error {
	dir := models.DirectionLong
	if order.Side == models.OrderSideSell {
		dir = models.DirectionShort
	}
	pos, exists := p.positions[order.Symbol]

	if order.ReduceOnly {
		if !exists || pos.Direction != dir.Opposite() {
			return &exchange.APIError{Code: 110017, Msg: "reduce-only order has same side with current position"}
		}
		pos.Quantity -= math.Min(order.Quantity, pos.Quantity)
		if pos.Quantity <= 1e-12 {
			delete(p.positions, order.Symbol)
		} else {
			p.positions[order.Symbol] = pos
		}
		return nil
	}

	switch {
	case !exists:
		p.positions[order.Symbol] = models.ExternalPosition{Symbol: order.Symbol, Direction: dir, Quantity: order.Quantity, EntryPrice: px}
	case pos.Direction == dir:
		total := pos.Quantity + order.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + px*order.Quantity) / total
		pos.Quantity = total
		p.positions[order.Symbol] = pos
	default:
		rest := order.Quantity - pos.Quantity
		switch {
		case rest > 1e-12:
			p.positions[order.Symbol] = models.ExternalPosition{Symbol: order.Symbol, Direction: dir, Quantity: rest, EntryPrice: px}
		case rest < -1e-12:
			pos.Quantity = -rest
			p.positions[order.Symbol] = pos
		default:
			delete(p.positions, order.Symbol)
		}
	}
	return nil
}
