package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trailbot/internal/data"
	"trailbot/internal/decision"
	"trailbot/internal/filter"
	"trailbot/internal/ledger"
	"trailbot/internal/logger"
	"trailbot/internal/metrics"
	"trailbot/internal/models"
)

type Config struct {
	InitialEquity float64
}

func (c Config) Validate() error {
	if c.InitialEquity <= 0 {
		return fmt.Errorf("initial_equity должен быть > 0: %f", c.InitialEquity)
	}
	return nil
}

// Observer вызывается после каждой группы свечей с копией открытых позиций.
type Observer func(ts time.Time, open []models.Position)

type Stepper struct {
	cfg      Config
	decider  *decision.Decider
	log      *logger.Logger
	observer Observer
}

func NewStepper(cfg Config, decider *decision.Decider, log *logger.Logger) (*Stepper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if decider == nil {
		return nil, fmt.Errorf("Decider не задан.")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Stepper{cfg: cfg, decider: decider, log: log}, nil
}

func (s *Stepper) Observe(fn Observer) {
	s.observer = fn
}

func (s *Stepper) logEntry() *logrus.Entry {
	return s.log.WithComponent("backtest")
}

// run состояние одного прогона; Stepper между прогонами ничего не хранит.
type run struct {
	s       *Stepper
	ledger  *ledger.Ledger
	account models.AccountState
	balance float64
	trades  []models.ClosedTrade
	curve   []metrics.EquityPoint
	diag    Diagnostics

	windows   map[string][]models.Bar
	lastClose map[string]float64
}

type groupBar struct {
	bar    models.Bar
	signal filter.Signal
	closed bool
}

// Run прогоняет все символы по общей оси времени с общим счётом.
// Внутри группы с одинаковым временем: выходы по всем символам, затем входы по символам
// в алфавитном порядке, затем одна переоценка счёта.
func (s *Stepper) Run(ctx context.Context, series map[string][]models.Bar) (*Result, error) {
	riskCfg := s.decider.RiskConfig()
	r := &run{
		s:         s,
		ledger:    ledger.New(ledger.Config{MaxOpen: riskCfg.MaxConcurrentTrades, OnePerSymbol: riskCfg.OneTradePerSymbol}),
		account:   models.NewAccountState(s.cfg.InitialEquity),
		balance:   s.cfg.InitialEquity,
		diag:      newDiagnostics(),
		windows:   map[string][]models.Bar{},
		lastClose: map[string]float64{},
	}

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	groups := mergeByTime(symbols, series)

	s.logEntry().WithFields(map[string]interface{}{
		"symbols":  symbols,
		"groups":   len(groups),
		"strategy": s.decider.Strategy().Name(),
		"equity":   s.cfg.InitialEquity,
	}).Info("Запуск бэктеста")

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("Бэктест прерван: %w", err)
		}
		r.step(g)
	}

	res := &Result{
		RunID:         uuid.NewString(),
		Strategy:      s.decider.Strategy().Name(),
		Symbols:       symbols,
		InitialEquity: s.cfg.InitialEquity,
		Trades:        r.trades,
		Equity:        r.curve,
		OpenPositions: r.ledger.AllOpen(),
		Account:       r.account,
		Diagnostics:   r.diag,
	}
	if res.Trades == nil {
		res.Trades = []models.ClosedTrade{}
	}
	res.Summary = metrics.Summarize(res.Trades, res.Equity, s.cfg.InitialEquity)

	s.logEntry().WithFields(map[string]interface{}{
		"run_id":   res.RunID,
		"trades":   res.Summary.TotalTrades,
		"win_rate": res.Summary.WinRate,
		"pnl":      res.Summary.TotalPnL,
		"max_dd":   res.Summary.MaxDrawdown,
		"skipped":  res.Diagnostics.SkippedBars,
	}).Info("Бэктест завершён")
	return res, nil
}

// mergeByTime раскладывает свечи всех символов по группам с одинаковым временем.
// Внутри группы свечи идут в порядке символов. Свечи символа не пересортировываются:
// немонотонная свеча попадает в свою группу и отбрасывается проверкой.
func mergeByTime(symbols []string, series map[string][]models.Bar) [][]models.Bar {
	type cursor struct {
		sym  string
		bars []models.Bar
		i    int
	}
	cursors := make([]*cursor, 0, len(symbols))
	for _, sym := range symbols {
		if len(series[sym]) > 0 {
			cursors = append(cursors, &cursor{sym: sym, bars: series[sym]})
		}
	}

	var groups [][]models.Bar
	for {
		var next time.Time
		found := false
		for _, c := range cursors {
			if c.i >= len(c.bars) {
				continue
			}
			ts := c.bars[c.i].Timestamp
			if !found || ts.Before(next) {
				next, found = ts, true
			}
		}
		if !found {
			return groups
		}
		var group []models.Bar
		for _, c := range cursors {
			if c.i < len(c.bars) && c.bars[c.i].Timestamp.Equal(next) {
				b := c.bars[c.i]
				b.Symbol = c.sym
				group = append(group, b)
				c.i++
			}
		}
		groups = append(groups, group)
	}
}

func (r *run) step(group []models.Bar) {
	bars := make([]*groupBar, 0, len(group))
	for _, b := range group {
		var prev *models.Bar
		if w := r.windows[b.Symbol]; len(w) > 0 {
			prev = &w[len(w)-1]
		}
		if err := data.CheckBar(prev, b); err != nil {
			r.diag.SkippedBars++
			r.diag.Skipped = append(r.diag.Skipped, SkippedBar{Time: b.Timestamp, Symbol: b.Symbol, Error: err.Error()})
			r.s.log.WithSymbol(b.Symbol).WithError(err).Warn("Свеча пропущена")
			continue
		}
		r.push(b)
		r.diag.BarsProcessed++
		bars = append(bars, &groupBar{bar: b, signal: r.s.decider.Evaluate(r.windows[b.Symbol])})
	}
	if len(bars) == 0 {
		return
	}

	for _, gb := range bars {
		gb.closed = r.exits(gb)
	}
	r.account.Equity = r.equity()

	for _, gb := range bars {
		if !gb.closed {
			r.entry(gb)
		}
	}

	ts := bars[0].bar.Timestamp
	r.account.Mark(r.equity())
	r.curve = append(r.curve, metrics.EquityPoint{Time: ts, Equity: r.account.Equity})

	if r.s.observer != nil {
		r.s.observer(ts, r.ledger.AllOpen())
	}
}

func (r *run) push(b models.Bar) {
	w := append(r.windows[b.Symbol], b)
	if n := r.s.decider.Lookback(); len(w) > n {
		w = append(w[:0:0], w[len(w)-n:]...)
	}
	r.windows[b.Symbol] = w
	r.lastClose[b.Symbol] = b.Close
}

func (r *run) exits(gb *groupBar) bool {
	closed := false
	for _, p := range r.ledger.OpenPositions(gb.bar.Symbol) {
		var u struct {
			close  bool
			reason models.ExitReason
		}
		err := r.ledger.Update(p.Ticket, func(pos *models.Position) {
			upd := r.s.decider.Manage(pos, gb.bar.Close, gb.signal)
			u.close, u.reason = upd.Close, upd.Reason
		})
		if err != nil || !u.close {
			continue
		}
		trade, err := r.ledger.Close(p.Ticket, gb.bar.Close, gb.bar.Timestamp, u.reason)
		if err != nil {
			r.diag.InvariantViolations++
			continue
		}
		r.settle(trade, p.RiskAmount)
		closed = true
	}
	return closed
}

func (r *run) settle(trade models.ClosedTrade, risk float64) {
	r.trades = append(r.trades, trade)
	r.balance += trade.PnL
	r.account.RealizedPnL += trade.PnL
	r.account.OpenRisk -= risk
	if r.account.OpenRisk < 0 {
		r.account.OpenRisk = 0
	}
	r.s.log.WithTicket(uint64(trade.Ticket)).WithFields(map[string]interface{}{
		"symbol": trade.Symbol,
		"reason": trade.Reason,
		"exit":   trade.ExitPrice,
		"pnl":    trade.PnL,
	}).Debug("Позиция закрыта")
}

func (r *run) entry(gb *groupBar) {
	sig := gb.signal
	if sig.Direction == models.DirectionNone {
		if f, ok := sig.Trace.FirstFailure(); ok {
			r.diag.StageFailures[f.Stage.String()]++
		}
		return
	}
	r.diag.Signals++

	symbolOpen := r.ledger.HasOpen(gb.bar.Symbol)
	if symbolOpen && r.s.decider.RiskConfig().OneTradePerSymbol {
		return
	}

	e := r.s.decider.Enter(decision.EntryRequest{
		Symbol:     gb.bar.Symbol,
		Signal:     sig,
		Bar:        gb.bar,
		Account:    r.account,
		OpenCount:  r.ledger.OpenCount(),
		SymbolOpen: symbolOpen,
		History:    r.trades,
	})
	if !e.Decision.Approved {
		r.diag.reject(gb.bar, sig.Direction, e.Decision.Rejection)
		r.s.log.WithSymbol(gb.bar.Symbol).WithFields(map[string]interface{}{
			"reason": e.Decision.Rejection.Reason,
			"detail": e.Decision.Rejection.Detail,
		}).Debug("Вход отклонён")
		return
	}

	a := e.Decision.Approval
	if a.Quantity*a.StopDistance > r.account.Equity*a.RiskFraction*(1+1e-9) {
		r.diag.InvariantViolations++
		r.s.log.WithSymbol(gb.bar.Symbol).Error("Размер позиции превышает риск-бюджет")
		return
	}

	ticket, err := r.ledger.Open(e.Position)
	if err != nil {
		r.diag.InvariantViolations++
		r.s.log.WithSymbol(gb.bar.Symbol).WithError(err).Error("Ledger отказал в открытии")
		return
	}
	r.account.OpenRisk += a.RiskAmount
	r.diag.Entries++
	r.s.log.WithTicket(uint64(ticket)).WithFields(map[string]interface{}{
		"symbol":    gb.bar.Symbol,
		"direction": sig.Direction,
		"entry":     e.Position.EntryPrice,
		"qty":       e.Position.Quantity,
		"stop":      e.Position.StopLoss,
		"take":      e.Position.TakeProfit,
	}).Debug("Позиция открыта")
}

// equity баланс плюс нереализованный результат по последним ценам закрытия.
func (r *run) equity() float64 {
	eq := r.balance
	for _, p := range r.ledger.AllOpen() {
		if px, ok := r.lastClose[p.Symbol]; ok {
			eq += p.UnrealizedPnL(px)
		}
	}
	return eq
}
