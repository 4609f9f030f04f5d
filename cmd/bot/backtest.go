package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"trailbot/internal/backtest"
	"trailbot/internal/data"
	"trailbot/internal/models"
	"trailbot/internal/report"
)

func backtestCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Прогон стратегии по CSV со свечами",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, decider, err := setup()
			if err != nil {
				return err
			}
			if len(cfg.Backtest.Data) == 0 {
				return fmt.Errorf("Не заданы файлы свечей (backtest.data).")
			}
			if outDir == "" {
				outDir = cfg.Backtest.OutputDir
			}

			series := make(map[string][]models.Bar, len(cfg.Backtest.Data))
			loads := make(map[string]data.Report, len(cfg.Backtest.Data))
			for _, src := range cfg.Backtest.Data {
				bars, parsed, err := data.LoadCSV(src.File, src.Symbol)
				if err != nil {
					return err
				}
				_, rep := data.Validate(bars)
				loads[src.Symbol] = rep
				series[src.Symbol] = bars

				log.WithFields(map[string]interface{}{
					"symbol":        src.Symbol,
					"file":          src.File,
					"rows":          parsed.Rows,
					"invalid_rows":  parsed.Invalid,
					"malformed":     rep.Malformed,
					"non_monotonic": rep.NonMonotonic,
				}).Info("Свечи загружены.")
			}

			stepper, err := backtest.NewStepper(backtest.Config{InitialEquity: cfg.Backtest.InitialEquity}, decider, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.Backtest.SharedAccount {
				res, err := stepper.Run(ctx, series)
				if err != nil {
					return err
				}
				res.Diagnostics.Load = loads
				return writeResult(cmd, outDir, res)
			}

			results, err := stepper.RunIsolated(ctx, series, cfg.Backtest.Workers)
			if err != nil {
				return err
			}
			for sym, res := range results {
				res.Diagnostics.Load = map[string]data.Report{sym: loads[sym]}
				if err := writeResult(cmd, filepath.Join(outDir, sym), res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "каталог для результатов (по умолчанию backtest.output_dir)")
	return cmd
}

func writeResult(cmd *cobra.Command, dir string, res *backtest.Result) error {
	if err := report.Write(dir, res); err != nil {
		return err
	}
	s := res.Summary
	fmt.Fprintf(cmd.OutOrStdout(), "%s %v: trades=%d win_rate=%.4f pnl=%.2f max_dd=%.4f -> %s\n",
		res.RunID, res.Symbols, s.TotalTrades, s.WinRate, s.TotalPnL, s.MaxDrawdown, dir)
	return nil
}
