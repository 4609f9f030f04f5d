package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"trailbot/internal/decision"
	"trailbot/internal/engine"
	"trailbot/internal/filter"
	"trailbot/internal/logger"
	"trailbot/internal/risk"
	"trailbot/internal/strategy"
	"trailbot/internal/trailing"
)

var ErrInvalid = errors.New("Некорректная конфигурация.")

type Config struct {
	Runtime  RuntimeConfig
	Strategy StrategyConfig
	Filters  filter.Config
	Risk     risk.Config
	Trailing trailing.Config
	Backtest BacktestConfig
	Live     LiveConfig
	Exchange ExchangeConfig
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type StrategyConfig struct {
	Name          string
	ExitOnReverse bool
}

type DataSource struct {
	Symbol string `mapstructure:"symbol"`
	File   string `mapstructure:"file"`
}

type BacktestConfig struct {
	InitialEquity float64
	SharedAccount bool
	Data          []DataSource
	OutputDir     string
	Workers       int
}

type LiveConfig struct {
	Symbols                []string
	BarsFile               string
	InitialEquity          float64
	PollInterval           time.Duration
	CallTimeout            time.Duration
	MaxConsecutiveFailures int
	RetryAttempts          int
	RetryBaseBackoff       time.Duration
	RetryMaxBackoff        time.Duration
	RateLimitMultiplier    float64
	LinkPrefix             string
}

type ExchangeConfig struct {
	Name       string
	BaseUrl    string
	WSUrl      string
	Category   string
	SettleCoin string
	ApiKey     string
	Secret     string
	RecvWindow time.Duration
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 30)

	v.SetDefault("strategy.name", "model")

	f := filter.DefaultConfig()
	v.SetDefault("filters.confidence_floor", f.ConfidenceFloor)
	v.SetDefault("filters.confidence_band", []float64{f.BandLow, f.BandHigh})
	v.SetDefault("filters.oscillator_overbought", f.OscillatorOverbought)
	v.SetDefault("filters.oscillator_oversold", f.OscillatorOversold)
	v.SetDefault("filters.max_volatility_ratio", f.MaxVolatilityRatio)
	v.SetDefault("filters.min_volume_ratio", f.MinVolumeRatio)
	v.SetDefault("filters.allow_short", f.AllowShort)

	r := risk.DefaultConfig()
	v.SetDefault("risk.max_concurrent_trades", r.MaxConcurrentTrades)
	v.SetDefault("risk.one_trade_per_symbol", r.OneTradePerSymbol)
	v.SetDefault("risk.risk_fraction_per_trade", r.RiskFraction)
	v.SetDefault("risk.max_drawdown_circuit_breaker", r.MaxDrawdown)
	v.SetDefault("risk.stop_atr_multiple", r.StopATRMultiple)
	v.SetDefault("risk.take_profit_reward_multiple", r.RewardMultiple)
	v.SetDefault("risk.kelly_fraction", r.KellyFraction)
	v.SetDefault("risk.kelly_min_trades", r.KellyMinTrades)
	v.SetDefault("risk.max_notional_fraction", r.MaxNotionalFraction)
	v.SetDefault("risk.max_portfolio_heat", r.MaxPortfolioHeat)

	v.SetDefault("trailing.protection_fraction", 0.8)

	v.SetDefault("backtest.initial_equity", 10000.0)
	v.SetDefault("backtest.shared_account", true)
	v.SetDefault("backtest.output_dir", "out")

	retry := engine.DefaultRetryPolicy()
	v.SetDefault("live.bars_file", "data/{symbol}.csv")
	v.SetDefault("live.initial_equity", 10000.0)
	v.SetDefault("live.poll_interval", "1m")
	v.SetDefault("live.call_timeout", retry.CallTimeout)
	v.SetDefault("live.max_consecutive_failures", 5)
	v.SetDefault("live.retry_attempts", retry.Attempts)
	v.SetDefault("live.retry_base_backoff", retry.BaseBackoff)
	v.SetDefault("live.retry_max_backoff", retry.MaxBackoff)
	v.SetDefault("live.rate_limit_multiplier", retry.RateLimitMultiplier)
	v.SetDefault("live.link_prefix", "tb")

	v.SetDefault("exchange.name", "paper")
	v.SetDefault("exchange.base_url", "https://api.bybit.com")
	v.SetDefault("exchange.ws_url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("exchange.category", "linear")
	v.SetDefault("exchange.settle_coin", "USDT")
	v.SetDefault("exchange.recv_window", "5s")
	v.SetDefault("exchange.timeout", "15s")
	v.SetDefault("exchange.rate_limit", 10.0)
	v.SetDefault("exchange.rate_burst", 1)
}

// Load читает конфиг: явный путь или configs/config.yaml, затем переменные TRAILBOT_*.
// Отсутствие файла не ошибка, если путь не задан явно.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRAILBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Ошибка чтения конфига: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Runtime = RuntimeConfig{Log: LogConfig{
		Level:      v.GetString("runtime.log.level"),
		Format:     v.GetString("runtime.log.format"),
		File:       v.GetString("runtime.log.file"),
		MaxSize:    v.GetInt("runtime.log.max_size"),
		MaxBackups: v.GetInt("runtime.log.max_backups"),
		MaxAge:     v.GetInt("runtime.log.max_age"),
		Compress:   v.GetBool("runtime.log.compress"),
	}}

	cfg.Strategy = StrategyConfig{
		Name:          v.GetString("strategy.name"),
		ExitOnReverse: v.GetBool("strategy.exit_on_reverse"),
	}

	band, err := floatPair(v.Get("filters.confidence_band"))
	if err != nil {
		return nil, fmt.Errorf("%w: confidence_band: %v", ErrInvalid, err)
	}
	cfg.Filters = filter.Config{
		ConfidenceFloor:      v.GetFloat64("filters.confidence_floor"),
		BandLow:              band[0],
		BandHigh:             band[1],
		OscillatorOverbought: v.GetFloat64("filters.oscillator_overbought"),
		OscillatorOversold:   v.GetFloat64("filters.oscillator_oversold"),
		MaxVolatilityRatio:   v.GetFloat64("filters.max_volatility_ratio"),
		MinVolumeRatio:       v.GetFloat64("filters.min_volume_ratio"),
		AllowShort:           v.GetBool("filters.allow_short"),
		DisabledStages:       v.GetStringSlice("filters.disabled_stages"),
	}

	cfg.Risk = risk.Config{
		MaxConcurrentTrades: v.GetInt("risk.max_concurrent_trades"),
		OneTradePerSymbol:   v.GetBool("risk.one_trade_per_symbol"),
		RiskFraction:        v.GetFloat64("risk.risk_fraction_per_trade"),
		MaxDrawdown:         v.GetFloat64("risk.max_drawdown_circuit_breaker"),
		StopATRMultiple:     v.GetFloat64("risk.stop_atr_multiple"),
		RewardMultiple:      v.GetFloat64("risk.take_profit_reward_multiple"),
		KellyFraction:       v.GetFloat64("risk.kelly_fraction"),
		KellyMinTrades:      v.GetInt("risk.kelly_min_trades"),
		MaxNotionalFraction: v.GetFloat64("risk.max_notional_fraction"),
		MaxPortfolioHeat:    v.GetFloat64("risk.max_portfolio_heat"),
	}

	cfg.Trailing = trailing.Config{
		ProtectionFraction: v.GetFloat64("trailing.protection_fraction"),
	}

	cfg.Backtest = BacktestConfig{
		InitialEquity: v.GetFloat64("backtest.initial_equity"),
		SharedAccount: v.GetBool("backtest.shared_account"),
		OutputDir:     v.GetString("backtest.output_dir"),
		Workers:       v.GetInt("backtest.workers"),
	}
	if err := v.UnmarshalKey("backtest.data", &cfg.Backtest.Data); err != nil {
		return nil, fmt.Errorf("%w: backtest.data: %v", ErrInvalid, err)
	}

	cfg.Live = LiveConfig{
		Symbols:                v.GetStringSlice("live.symbols"),
		BarsFile:               v.GetString("live.bars_file"),
		InitialEquity:          v.GetFloat64("live.initial_equity"),
		PollInterval:           v.GetDuration("live.poll_interval"),
		CallTimeout:            v.GetDuration("live.call_timeout"),
		MaxConsecutiveFailures: v.GetInt("live.max_consecutive_failures"),
		RetryAttempts:          v.GetInt("live.retry_attempts"),
		RetryBaseBackoff:       v.GetDuration("live.retry_base_backoff"),
		RetryMaxBackoff:        v.GetDuration("live.retry_max_backoff"),
		RateLimitMultiplier:    v.GetFloat64("live.rate_limit_multiplier"),
		LinkPrefix:             v.GetString("live.link_prefix"),
	}

	cfg.Exchange = ExchangeConfig{
		Name:       strings.ToLower(v.GetString("exchange.name")),
		BaseUrl:    v.GetString("exchange.base_url"),
		WSUrl:      v.GetString("exchange.ws_url"),
		Category:   v.GetString("exchange.category"),
		SettleCoin: v.GetString("exchange.settle_coin"),
		ApiKey:     envSub(v, "exchange.api_key"),
		Secret:     envSub(v, "exchange.secret"),
		RecvWindow: v.GetDuration("exchange.recv_window"),
		Timeout:    v.GetDuration("exchange.timeout"),
		RateLimit:  v.GetFloat64("exchange.rate_limit"),
		RateBurst:  v.GetInt("exchange.rate_burst"),
	}

	return cfg, nil
}

// Validate проверяет диапазоны всех секций. Секцию live проверяет сам движок при запуске.
func (c *Config) Validate() error {
	if _, err := strategy.Lookup(c.Strategy.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Trailing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Backtest.InitialEquity <= 0 {
		return fmt.Errorf("%w: initial_equity должен быть > 0: %f", ErrInvalid, c.Backtest.InitialEquity)
	}
	if c.Backtest.Workers < 0 {
		return fmt.Errorf("%w: workers должен быть >= 0: %d", ErrInvalid, c.Backtest.Workers)
	}
	for i, d := range c.Backtest.Data {
		if d.Symbol == "" || d.File == "" {
			return fmt.Errorf("%w: backtest.data[%d]: нужны symbol и file", ErrInvalid, i)
		}
	}
	switch c.Exchange.Name {
	case "paper", "bybit":
	default:
		return fmt.Errorf("%w: неизвестная биржа %q", ErrInvalid, c.Exchange.Name)
	}
	return nil
}

func (c *Config) Decision() decision.Config {
	return decision.Config{
		Filters:       c.Filters,
		Risk:          c.Risk,
		Trailing:      c.Trailing,
		ExitOnReverse: c.Strategy.ExitOnReverse,
	}
}

func (c *Config) Engine() engine.Config {
	return engine.Config{
		Symbols:                c.Live.Symbols,
		PollInterval:           c.Live.PollInterval,
		InitialEquity:          c.Live.InitialEquity,
		MaxConsecutiveFailures: c.Live.MaxConsecutiveFailures,
		LinkPrefix:             c.Live.LinkPrefix,
		Retry: engine.RetryPolicy{
			Attempts:            c.Live.RetryAttempts,
			BaseBackoff:         c.Live.RetryBaseBackoff,
			MaxBackoff:          c.Live.RetryMaxBackoff,
			RateLimitMultiplier: c.Live.RateLimitMultiplier,
			CallTimeout:         c.Live.CallTimeout,
		},
	}
}

func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Runtime.Log.Level,
		Format:     c.Runtime.Log.Format,
		Output:     c.Runtime.Log.File,
		MaxSize:    c.Runtime.Log.MaxSize,
		MaxBackups: c.Runtime.Log.MaxBackups,
		MaxAge:     c.Runtime.Log.MaxAge,
		Compress:   c.Runtime.Log.Compress,
	}
}

// floatPair принимает список из YAML или строку "0.4,0.75" из окружения.
func floatPair(raw any) ([2]float64, error) {
	var items []any
	switch val := raw.(type) {
	case []any:
		items = val
	case []float64:
		for _, f := range val {
			items = append(items, f)
		}
	case string:
		for _, s := range strings.Split(val, ",") {
			items = append(items, strings.TrimSpace(s))
		}
	default:
		return [2]float64{}, fmt.Errorf("ожидается пара чисел, получено %T", raw)
	}
	if len(items) != 2 {
		return [2]float64{}, fmt.Errorf("ожидается пара чисел, получено %d", len(items))
	}
	var out [2]float64
	for i, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return [2]float64{}, err
		}
		out[i] = f
	}
	return out, nil
}

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
