package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"trailbot/internal/models"
)

// GetOpenPositions все ненулевые позиции по settleCoin, с постраничным обходом.
func (c *Client) GetOpenPositions(ctx context.Context) ([]models.ExternalPosition, error) {
	var out []models.ExternalPosition
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.category)
		params.Set("settleCoin", c.settleCoin)
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp bybitResponse[positionInfo]
		if err := c.doRequest(ctx, http.MethodGet, "/v5/position/list", params, nil, true, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Result.List {
			size, err := parseFloatOrZero(item.Size)
			if err != nil {
				return nil, fmt.Errorf("Некорректный размер позиции %s: %q", item.Symbol, item.Size)
			}
			if size <= 0 {
				continue
			}
			avg, _ := parseFloatOrZero(item.AvgPrice)

			dir := models.DirectionLong
			if strings.EqualFold(item.Side, string(models.OrderSideSell)) {
				dir = models.DirectionShort
			}
			out = append(out, models.ExternalPosition{
				Symbol:     item.Symbol,
				Direction:  dir,
				Quantity:   size,
				EntryPrice: avg,
			})
		}

		cursor = resp.Result.NextPageCursor
		if cursor == "" {
			return out, nil
		}
	}
}
