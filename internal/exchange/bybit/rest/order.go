package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"trailbot/internal/models"
)

// PlaceOrder рыночный ордер. Цена исполнения в ответе create не приходит, поэтому
// в OrderAck.Price кладётся последняя известная цена.
func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (models.OrderAck, error) {
	if order.LinkID == "" {
		return models.OrderAck{}, fmt.Errorf("Пустой orderLinkId.")
	}
	if quantize(order.Quantity, order.QtyStep).Sign() <= 0 {
		return models.OrderAck{}, fmt.Errorf("Объём после округления равен нулю: %f (шаг %f)", order.Quantity, order.QtyStep)
	}

	qty := formatWithStep(order.Quantity, order.QtyStep)
	body := map[string]any{
		"category":    c.category,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"orderType":   "Market",
		"qty":         qty,
		"orderLinkId": order.LinkID,
		"reduceOnly":  order.ReduceOnly,
	}

	var resp bybitResponse[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]
	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return models.OrderAck{}, err
	}

	ack := models.OrderAck{OrderID: resp.Result.OrderID, LinkID: order.LinkID, Time: time.UnixMilli(resp.Time)}
	if resp.Time == 0 {
		ack.Time = time.Now()
	}
	if px, err := c.GetCurrentPrice(ctx, order.Symbol); err == nil {
		ack.Price = px
	}
	c.log.WithFields(map[string]interface{}{
		"symbol":      order.Symbol,
		"side":        order.Side,
		"qty":         qty,
		"reduce_only": order.ReduceOnly,
		"order_id":    ack.OrderID,
		"link_id":     order.LinkID,
	}).Info("Ордер размещён.")
	return ack, nil
}
