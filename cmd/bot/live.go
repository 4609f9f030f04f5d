package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trailbot/internal/data"
	"trailbot/internal/engine"
	"trailbot/internal/exchange"
	"trailbot/internal/exchange/bybit/rest"
	"trailbot/internal/exchange/bybit/ws"
	"trailbot/internal/exchange/paper"
)

func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Живой цикл на бумажной бирже или Bybit до SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, decider, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			feed := data.NewFileFeed(cfg.Live.BarsFile)

			var adapter exchange.Adapter
			switch cfg.Exchange.Name {
			case "paper":
				adapter = paper.New(feed)
			case "bybit":
				stream := ws.New(cfg.Exchange.WSUrl, log)
				if err := stream.Connect(ctx, cfg.Live.Symbols); err != nil {
					log.WithError(err).Warn("Поток цен недоступен, цены берутся через REST.")
				}
				defer stream.Close()

				adapter = rest.New(rest.Options{
					BaseURL:     cfg.Exchange.BaseUrl,
					Category:    cfg.Exchange.Category,
					SettleCoin:  cfg.Exchange.SettleCoin,
					APIKey:      cfg.Exchange.ApiKey,
					Secret:      cfg.Exchange.Secret,
					RecvWindow:  cfg.Exchange.RecvWindow,
					Timeout:     cfg.Exchange.Timeout,
					RateLimit:   cfg.Exchange.RateLimit,
					RateBurst:   cfg.Exchange.RateBurst,
					PriceStream: stream,
				}, log)
			default:
				return fmt.Errorf("Неизвестная биржа: %s", cfg.Exchange.Name)
			}

			eng, err := engine.New(cfg.Engine(), adapter, feed, decider, log)
			if err != nil {
				return err
			}

			log.Info("Бот запущен.")
			if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("Бот остановлен.")
			return nil
		},
	}
}

