package risk

import (
	"fmt"
	"math"

	"trailbot/internal/models"
)

type Reason string

const (
	ReasonSlotLimit          Reason = "slot_limit"
	ReasonSymbolLimit        Reason = "symbol_limit"
	ReasonDrawdownLimit      Reason = "drawdown_limit"
	ReasonInsufficientEquity Reason = "insufficient_equity"
	ReasonIndeterminateRisk  Reason = "indeterminate_risk"
	ReasonPortfolioHeat      Reason = "portfolio_heat"
	ReasonNoEdge             Reason = "no_edge"
	ReasonInvariant          Reason = "invariant_violation"
)

type Config struct {
	MaxConcurrentTrades int
	OneTradePerSymbol   bool
	RiskFraction        float64
	MaxDrawdown         float64
	StopATRMultiple     float64
	RewardMultiple      float64
	KellyFraction       float64
	KellyMinTrades      int
	MaxNotionalFraction float64
	MaxPortfolioHeat    float64
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentTrades: 3,
		OneTradePerSymbol:   true,
		RiskFraction:        0.01,
		MaxDrawdown:         0.2,
		StopATRMultiple:     2,
		RewardMultiple:      2,
		KellyMinTrades:      30,
		MaxNotionalFraction: 1,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrentTrades < 1 {
		return fmt.Errorf("max_concurrent_trades должен быть >= 1: %d", c.MaxConcurrentTrades)
	}
	if c.RiskFraction <= 0 || c.RiskFraction > 1 {
		return fmt.Errorf("risk_fraction_per_trade вне (0,1]: %f", c.RiskFraction)
	}
	if c.MaxDrawdown <= 0 || c.MaxDrawdown > 1 {
		return fmt.Errorf("max_drawdown_circuit_breaker вне (0,1]: %f", c.MaxDrawdown)
	}
	if c.StopATRMultiple <= 0 {
		return fmt.Errorf("stop_atr_multiple должен быть > 0: %f", c.StopATRMultiple)
	}
	if c.RewardMultiple <= 0 {
		return fmt.Errorf("take_profit_reward_multiple должен быть > 0: %f", c.RewardMultiple)
	}
	if c.KellyFraction < 0 || c.KellyFraction > 1 {
		return fmt.Errorf("kelly_fraction вне [0,1]: %f", c.KellyFraction)
	}
	if c.MaxNotionalFraction <= 0 || !finite(c.MaxNotionalFraction) {
		return fmt.Errorf("max_notional_fraction должен быть > 0: %f", c.MaxNotionalFraction)
	}
	if c.MaxPortfolioHeat < 0 || c.MaxPortfolioHeat > 1 {
		return fmt.Errorf("max_portfolio_heat вне [0,1]: %f", c.MaxPortfolioHeat)
	}
	return nil
}

type Request struct {
	Symbol     string
	Direction  models.Direction
	EntryPrice float64
	ATR        float64
	Account    models.AccountState
	OpenCount  int
	SymbolOpen bool
	Kelly      KellyEstimate
}

type Approval struct {
	Quantity     float64 `json:"quantity"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	StopDistance float64 `json:"stop_distance"`
	RiskAmount   float64 `json:"risk_amount"`
	RiskFraction float64 `json:"risk_fraction"`
}

type Rejection struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type Decision struct {
	Approved  bool
	Approval  Approval
	Rejection Rejection
}

func reject(reason Reason, format string, args ...any) Decision {
	return Decision{Rejection: Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}}
}

type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{cfg: cfg}, nil
}

func (s *Sizer) Config() Config {
	return s.cfg
}

func (s *Sizer) Approve(req Request) Decision {
	if req.OpenCount >= s.cfg.MaxConcurrentTrades {
		return reject(ReasonSlotLimit, "открыто %d из %d", req.OpenCount, s.cfg.MaxConcurrentTrades)
	}
	if s.cfg.OneTradePerSymbol && req.SymbolOpen {
		return reject(ReasonSymbolLimit, "по %s уже есть позиция", req.Symbol)
	}
	if dd := req.Account.Drawdown(); dd > s.cfg.MaxDrawdown {
		return reject(ReasonDrawdownLimit, "просадка %.4f > %.4f", dd, s.cfg.MaxDrawdown)
	}
	if req.Account.Equity <= 0 || !finite(req.Account.Equity) {
		return reject(ReasonInsufficientEquity, "equity=%f", req.Account.Equity)
	}
	if req.Direction != models.DirectionLong && req.Direction != models.DirectionShort {
		return reject(ReasonInvariant, "направление %s", req.Direction)
	}

	stopDistance := req.ATR * s.cfg.StopATRMultiple
	if !finite(stopDistance) || stopDistance <= 0 || !finite(req.EntryPrice) || req.EntryPrice <= 0 {
		return reject(ReasonIndeterminateRisk, "atr=%f entry=%f", req.ATR, req.EntryPrice)
	}

	fraction := s.cfg.RiskFraction
	if s.cfg.KellyFraction > 0 && req.Kelly.Trades >= s.cfg.KellyMinTrades {
		k := req.Kelly.Fraction() * s.cfg.KellyFraction
		if k <= 0 {
			return reject(ReasonNoEdge, "kelly=%.4f", k)
		}
		fraction = math.Min(fraction, k)
	}

	riskAmount := req.Account.Equity * fraction
	if s.cfg.MaxPortfolioHeat > 0 {
		heat := (req.Account.OpenRisk + riskAmount) / req.Account.Equity
		if heat > s.cfg.MaxPortfolioHeat {
			return reject(ReasonPortfolioHeat, "heat %.4f > %.4f", heat, s.cfg.MaxPortfolioHeat)
		}
	}

	qty := riskAmount / stopDistance
	if maxQty := req.Account.Equity * s.cfg.MaxNotionalFraction / req.EntryPrice; qty > maxQty {
		qty = maxQty
	}

	sign := req.Direction.Sign()
	stop := req.EntryPrice - sign*stopDistance
	take := req.EntryPrice + sign*stopDistance*s.cfg.RewardMultiple

	switch {
	case !finite(qty) || qty <= 0:
		return reject(ReasonInvariant, "qty=%f", qty)
	case !finite(stop) || stop <= 0:
		return reject(ReasonInvariant, "stop_loss=%f", stop)
	case !finite(take) || take <= 0:
		return reject(ReasonInvariant, "take_profit=%f", take)
	}

	return Decision{
		Approved: true,
		Approval: Approval{
			Quantity:     qty,
			StopLoss:     stop,
			TakeProfit:   take,
			StopDistance: stopDistance,
			RiskAmount:   qty * stopDistance,
			RiskFraction: fraction,
		},
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
