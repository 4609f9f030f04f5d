package rest

import (
	"net/http"

	"golang.org/x/time/rate"

	"trailbot/internal/exchange/bybit/ws"
	"trailbot/internal/logger"
)

type Client struct {
	baseURL    string
	category   string
	settleCoin string
	apiKey     string
	secret     string
	recvWindow string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
	prices     *ws.Client
}

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

func (r bybitResponse[T]) code() (int, string) {
	return r.RetCode, r.RetMsg
}

type instrumentInfo struct {
	List []struct {
		Symbol      string `json:"symbol"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			MinOrderQty string `json:"minOrderQty"`
			QtyStep     string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

type tickerInfo struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type positionInfo struct {
	List []struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Size     string `json:"size"`
		AvgPrice string `json:"avgPrice"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}
