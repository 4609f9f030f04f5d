package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_BYBIT_KEY", "key-123")
	path := writeConfig(t, `
strategy:
  name: trend_score
filters:
  confidence_band: [0.5, 0.9]
  disabled_stages: [volume]
risk:
  max_concurrent_trades: 2
  risk_fraction_per_trade: 0.02
backtest:
  initial_equity: 5000
  data:
    - symbol: AAA
      file: a.csv
live:
  symbols: [AAA]
  poll_interval: 30s
exchange:
  name: bybit
  api_key: ${TEST_BYBIT_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Strategy.Name != "trend_score" {
		t.Fatalf("strategy = %s", cfg.Strategy.Name)
	}
	if cfg.Filters.BandLow != 0.5 || cfg.Filters.BandHigh != 0.9 {
		t.Fatalf("band = %f..%f", cfg.Filters.BandLow, cfg.Filters.BandHigh)
	}
	if len(cfg.Filters.DisabledStages) != 1 || cfg.Filters.DisabledStages[0] != "volume" {
		t.Fatalf("disabled = %v", cfg.Filters.DisabledStages)
	}
	if cfg.Risk.MaxConcurrentTrades != 2 || cfg.Risk.RiskFraction != 0.02 {
		t.Fatalf("risk = %+v", cfg.Risk)
	}
	if cfg.Risk.MaxDrawdown != 0.2 {
		t.Fatalf("default drawdown lost: %f", cfg.Risk.MaxDrawdown)
	}
	if len(cfg.Backtest.Data) != 1 || cfg.Backtest.Data[0].File != "a.csv" {
		t.Fatalf("data = %+v", cfg.Backtest.Data)
	}
	if cfg.Live.PollInterval != 30*time.Second {
		t.Fatalf("poll = %s", cfg.Live.PollInterval)
	}
	if cfg.Exchange.ApiKey != "key-123" {
		t.Fatalf("api key substitution = %q", cfg.Exchange.ApiKey)
	}

	ec := cfg.Engine()
	if err := ec.Validate(); err != nil {
		t.Fatalf("engine config: %v", err)
	}
	if dc := cfg.Decision(); dc.Risk != cfg.Risk {
		t.Fatalf("decision config does not carry risk section")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "risk:\n  max_concurrent_trades: 2\n")
	t.Setenv("TRAILBOT_RISK_MAX_CONCURRENT_TRADES", "7")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Risk.MaxConcurrentTrades != 7 {
		t.Fatalf("max_concurrent_trades = %d", cfg.Risk.MaxConcurrentTrades)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"risk fraction":   "risk:\n  risk_fraction_per_trade: 1.5\n",
		"band order":      "filters:\n  confidence_band: [0.8, 0.2]\n",
		"floor disabled":  "filters:\n  disabled_stages: [confidence_floor]\n",
		"strategy":        "strategy:\n  name: nope\n",
		"exchange":        "exchange:\n  name: binance\n",
		"trailing":        "trailing:\n  protection_fraction: 2\n",
		"notional cap":    "risk:\n  max_notional_fraction: 0\n",
		"data without fs": "backtest:\n  data:\n    - symbol: AAA\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing explicit file accepted")
	}
}

func TestFloatPair(t *testing.T) {
	got, err := floatPair("0.35, 0.7")
	if err != nil || got != [2]float64{0.35, 0.7} {
		t.Fatalf("pair = %v, err = %v", got, err)
	}
	if _, err := floatPair([]any{0.1}); err == nil {
		t.Fatalf("single value accepted")
	}
}
