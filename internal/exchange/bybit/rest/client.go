package rest

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"trailbot/internal/exchange/bybit/ws"
	"trailbot/internal/logger"
)

type Options struct {
	BaseURL     string
	Category    string
	SettleCoin  string
	APIKey      string
	Secret      string
	RecvWindow  time.Duration
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	PriceStream *ws.Client
}

func New(opts Options, log *logger.Logger) *Client {
	if opts.Category == "" {
		opts.Category = "linear"
	}
	if opts.SettleCoin == "" {
		opts.SettleCoin = "USDT"
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Client{
		baseURL:    opts.BaseURL,
		category:   opts.Category,
		settleCoin: opts.SettleCoin,
		apiKey:     opts.APIKey,
		secret:     opts.Secret,
		recvWindow: formatMillis(opts.RecvWindow),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		log:     log,
		prices:  opts.PriceStream,
	}
}
