package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trailbot/internal/exchange"
)

// Цена из WS кэша старше этого порога не используется.
const maxStreamPriceAge = 5 * time.Second

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[instrumentInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}
	if len(resp.Result.List) == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Торговая пара не найдена: %s", symbol)
	}

	info := resp.Result.List[0]
	tick, err := parseFloatOrZero(info.PriceFilter.TickSize)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение tickSize=%q: %w", info.PriceFilter.TickSize, err)
	}
	step, err := parseFloatOrZero(info.LotSizeFilter.QtyStep)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение qtyStep=%q: %w", info.LotSizeFilter.QtyStep, err)
	}
	if step == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Не удалось определить шаг объёма для торговой пары: %s", symbol)
	}
	minQty, err := parseFloatOrZero(info.LotSizeFilter.MinOrderQty)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение minOrderQty=%q: %w", info.LotSizeFilter.MinOrderQty, err)
	}

	return exchange.InstrumentRules{TickSize: tick, QtyStep: step, MinQty: minQty}, nil
}

// GetCurrentPrice берёт свежую цену из WS потока, иначе запрашивает тикер по REST.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if c.prices != nil {
		if px, ok := c.prices.LastPrice(symbol, maxStreamPriceAge); ok {
			return px, nil
		}
	}

	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[tickerInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return 0, err
	}
	for _, item := range resp.Result.List {
		if item.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(item.LastPrice, 64)
		if err != nil || price <= 0 {
			return 0, fmt.Errorf("Некорректная цена тикера %s: %q", symbol, item.LastPrice)
		}
		return price, nil
	}
	return 0, fmt.Errorf("Тикер не найден: %s", symbol)
}
