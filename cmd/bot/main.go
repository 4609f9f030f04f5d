package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trailbot/internal/config"
	"trailbot/internal/decision"
	"trailbot/internal/logger"
	"trailbot/internal/strategy"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "trailbot",
		Short:         "Бэктест и живой цикл стратегии с трейлинг-стопом",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "файл конфига (по умолчанию configs/config.yaml)")

	rootCmd.AddCommand(backtestCmd(), liveCmd(), strategiesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup общая часть подкоманд: конфиг, логгер и decider выбранной стратегии.
func setup() (*config.Config, *logger.Logger, *decision.Decider, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.New(cfg.Logger())

	strat, err := strategy.Lookup(cfg.Strategy.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	decider, err := decision.New(cfg.Decision(), strat)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, decider, nil
}

func strategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "Список доступных стратегий",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range strategy.Registry() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
}
