package paper

import (
	"context"
	"errors"
	"testing"

	"trailbot/internal/exchange"
	"trailbot/internal/models"
)

func TestOpenAndReduce(t *testing.T) {
	ctx := context.Background()
	p := New(nil)
	p.SetPrice("BTCUSDT", 100)

	ack, err := p.PlaceOrder(ctx, models.Order{LinkID: "a", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ack.Price != 100 {
		t.Fatalf("fill price = %f", ack.Price)
	}
	positions, _ := p.GetOpenPositions(ctx)
	if len(positions) != 1 || positions[0].Direction != models.DirectionLong || positions[0].Quantity != 2 {
		t.Fatalf("positions = %+v", positions)
	}

	if _, err := p.PlaceOrder(ctx, models.Order{LinkID: "a", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: 2}); !exchange.IsDuplicateLinkID(err) {
		t.Fatalf("expected duplicate link id, got %v", err)
	}

	if _, err := p.PlaceOrder(ctx, models.Order{LinkID: "b", Symbol: "BTCUSDT", Side: models.OrderSideSell, Quantity: 2, ReduceOnly: true}); err != nil {
		t.Fatalf("close: %v", err)
	}
	positions, _ = p.GetOpenPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("position not closed: %+v", positions)
	}

	_, err = p.PlaceOrder(ctx, models.Order{LinkID: "c", Symbol: "BTCUSDT", Side: models.OrderSideSell, Quantity: 1, ReduceOnly: true})
	if err == nil {
		t.Fatalf("reduce-only without position must fail")
	}
}

func TestInjectedFailures(t *testing.T) {
	ctx := context.Background()
	p := New(nil)
	p.SetPrice("ETHUSDT", 50)

	p.Fail(OpPrice, exchange.ErrRateLimited, 1)
	if _, err := p.GetCurrentPrice(ctx, "ETHUSDT"); !errors.Is(err, exchange.ErrRateLimited) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if px, err := p.GetCurrentPrice(ctx, "ETHUSDT"); err != nil || px != 50 {
		t.Fatalf("second call = %v %v", px, err)
	}

	p.FailAfterFill(exchange.ErrUnavailable)
	_, err := p.PlaceOrder(ctx, models.Order{LinkID: "x", Symbol: "ETHUSDT", Side: models.OrderSideSell, Quantity: 1})
	if !errors.Is(err, exchange.ErrUnavailable) {
		t.Fatalf("expected ambiguous failure, got %v", err)
	}
	positions, _ := p.GetOpenPositions(ctx)
	if len(positions) != 1 || positions[0].Direction != models.DirectionShort {
		t.Fatalf("order must be applied despite error: %+v", positions)
	}
}

type fixedSource float64

func (f fixedSource) GetCurrentPrice(context.Context, string) (float64, error) { return float64(f), nil }

func TestPriceSource(t *testing.T) {
	p := New(fixedSource(42))
	px, err := p.GetCurrentPrice(context.Background(), "SOLUSDT")
	if err != nil || px != 42 {
		t.Fatalf("price = %v %v", px, err)
	}
	if _, err := p.PlaceOrder(context.Background(), models.Order{Symbol: "SOLUSDT", Side: models.OrderSideBuy, Quantity: 1}); err != nil {
		t.Fatalf("order after sourced price: %v", err)
	}
}
