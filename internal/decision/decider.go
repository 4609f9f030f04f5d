package decision

import (
	"fmt"

	"trailbot/internal/filter"
	"trailbot/internal/models"
	"trailbot/internal/risk"
	"trailbot/internal/strategy"
	"trailbot/internal/trailing"
)

type Config struct {
	Filters  filter.Config
	Risk     risk.Config
	Trailing trailing.Config
	// ExitOnReverse закрывает позицию с причиной strategy_signal, когда сигнал бара противоположен ей.
	ExitOnReverse bool
}

// Decider единственный путь, через который бэктест и лайв оценивают входы и ведут открытые позиции.
// Состояния не хранит: всё, что меняется между барами, передаёт вызывающий.
type Decider struct {
	cfg      Config
	strategy strategy.Strategy
	pipeline *filter.Pipeline
	sizer    *risk.Sizer
	exits    *trailing.Engine
}

func New(cfg Config, strat strategy.Strategy) (*Decider, error) {
	if strat == nil {
		return nil, fmt.Errorf("Стратегия не задана.")
	}
	pipeline, err := filter.New(strat.Filters(cfg.Filters))
	if err != nil {
		return nil, fmt.Errorf("фильтры: %w", err)
	}
	sizer, err := risk.NewSizer(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("риск: %w", err)
	}
	exits, err := trailing.New(cfg.Trailing)
	if err != nil {
		return nil, fmt.Errorf("трейлинг: %w", err)
	}
	return &Decider{cfg: cfg, strategy: strat, pipeline: pipeline, sizer: sizer, exits: exits}, nil
}

func (d *Decider) Strategy() strategy.Strategy { return d.strategy }
func (d *Decider) Lookback() int               { return d.strategy.Lookback() }
func (d *Decider) Pipeline() *filter.Pipeline  { return d.pipeline }
func (d *Decider) RiskConfig() risk.Config     { return d.sizer.Config() }

// Evaluate считает сигнал по последней свече окна.
func (d *Decider) Evaluate(window []models.Bar) filter.Signal {
	if len(window) == 0 {
		return filter.Signal{Direction: models.DirectionNone}
	}
	if n := d.strategy.Lookback(); len(window) > n {
		window = window[len(window)-n:]
	}
	confidence := d.strategy.Confidence(window)
	return d.pipeline.Evaluate(window[len(window)-1], confidence)
}

// Manage обновляет трейлинг позиции по цене и проверяет выход по развороту сигнала.
// Позиция меняется на месте; закрытие выполняет вызывающий.
func (d *Decider) Manage(p *models.Position, price float64, sig filter.Signal) trailing.Update {
	u := d.exits.Update(p, price)
	if u.Close || u.Invalid {
		return u
	}
	if d.cfg.ExitOnReverse && sig.Direction != models.DirectionNone && sig.Direction == p.Direction.Opposite() {
		u.Close = true
		u.Reason = models.ExitStrategySignal
	}
	return u
}

type EntryRequest struct {
	Symbol     string
	Signal     filter.Signal
	Bar        models.Bar
	Account    models.AccountState
	OpenCount  int
	SymbolOpen bool
	History    []models.ClosedTrade
}

type Entry struct {
	Decision risk.Decision
	Position models.Position
}

// Enter пропускает сигнал через сайзер и собирает позицию для ledger.
// Вход по NONE запрещён на уровне вызывающего, здесь он отклоняется как нарушение инварианта.
func (d *Decider) Enter(req EntryRequest) Entry {
	var kelly risk.KellyEstimate
	if d.sizer.Config().KellyFraction > 0 {
		kelly = risk.EstimateKelly(req.History)
	}
	dec := d.sizer.Approve(risk.Request{
		Symbol:     req.Symbol,
		Direction:  req.Signal.Direction,
		EntryPrice: req.Bar.Close,
		ATR:        req.Bar.ATR,
		Account:    req.Account,
		OpenCount:  req.OpenCount,
		SymbolOpen: req.SymbolOpen,
		Kelly:      kelly,
	})
	if !dec.Approved {
		return Entry{Decision: dec}
	}
	a := dec.Approval
	return Entry{
		Decision: dec,
		Position: models.Position{
			Symbol:          req.Symbol,
			Direction:       req.Signal.Direction,
			EntryPrice:      req.Bar.Close,
			EntryTime:       req.Bar.Timestamp,
			Quantity:        a.Quantity,
			InitialStopLoss: a.StopLoss,
			StopLoss:        a.StopLoss,
			TakeProfit:      a.TakeProfit,
			BestPrice:       req.Bar.Close,
			ProtectionFrac:  d.exits.ProtectionFraction(),
			RiskAmount:      a.RiskAmount,
		},
	}
}
