package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trailbot/internal/decision"
	"trailbot/internal/exchange"
	"trailbot/internal/ledger"
	"trailbot/internal/logger"
	"trailbot/internal/models"
)

// BarSource окно последних свечей с индикаторами, которые считает внешний конвейер.
type BarSource interface {
	Window(ctx context.Context, symbol string, n int) ([]models.Bar, error)
}

type Config struct {
	Symbols                []string
	PollInterval           time.Duration
	InitialEquity          float64
	MaxConsecutiveFailures int
	Retry                  RetryPolicy
	LinkPrefix             string
}

func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("Не заданы символы для живого цикла.")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval должен быть > 0: %s", c.PollInterval)
	}
	if c.InitialEquity <= 0 {
		return fmt.Errorf("initial_equity должен быть > 0: %f", c.InitialEquity)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures должен быть >= 1: %d", c.MaxConsecutiveFailures)
	}
	return c.Retry.Validate()
}

// Engine живой цикл: на каждом тике сверяет ledger с биржей, ведёт открытые позиции
// и пробует входы тем же Decider, что и бэктест.
type Engine struct {
	cfg     Config
	adapter exchange.Adapter
	feed    BarSource
	decider *decision.Decider
	ledger  *ledger.Ledger
	breaker *FailureBreaker
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	account models.AccountState
	balance float64
	trades  []models.ClosedTrade
	symbols map[string]*symbolState
	order   []string
	rules   map[string]exchange.InstrumentRules
	ticks   int
}

func New(cfg Config, adapter exchange.Adapter, feed BarSource, decider *decision.Decider, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil || feed == nil || decider == nil {
		return nil, fmt.Errorf("Не заданы адаптер, источник свечей или decider.")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LinkPrefix == "" {
		cfg.LinkPrefix = "tb"
	}

	riskCfg := decider.RiskConfig()
	e := &Engine{
		cfg:     cfg,
		adapter: adapter,
		feed:    feed,
		decider: decider,
		ledger:  ledger.New(ledger.Config{MaxOpen: riskCfg.MaxConcurrentTrades, OnePerSymbol: riskCfg.OneTradePerSymbol}),
		breaker: NewFailureBreaker(cfg.MaxConsecutiveFailures),
		log:     log,
		now:     time.Now,
		account: models.NewAccountState(cfg.InitialEquity),
		balance: cfg.InitialEquity,
		symbols: map[string]*symbolState{},
		rules:   map[string]exchange.InstrumentRules{},
	}
	for _, s := range cfg.Symbols {
		if _, ok := e.symbols[s]; ok {
			continue
		}
		e.symbols[s] = &symbolState{}
		e.order = append(e.order, s)
	}
	sort.Strings(e.order)
	return e, nil
}

// Run крутит тики до отмены ctx. Начатый тик, включая сверку, доводится до конца.
func (e *Engine) Run(ctx context.Context) error {
	e.logEntry().WithFields(map[string]interface{}{
		"symbols":  e.order,
		"interval": e.cfg.PollInterval.String(),
		"strategy": e.decider.Strategy().Name(),
	}).Info("Живой цикл запущен.")

	e.loadRules(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		e.Tick(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	st := e.Status()
	e.logEntry().WithFields(map[string]interface{}{
		"ticks":  st.Ticks,
		"trades": st.Trades,
		"open":   len(st.OpenPositions),
		"equity": st.Account.Equity,
	}).Info("Живой цикл остановлен.")
	return nil
}

func (e *Engine) loadRules(ctx context.Context) {
	provider, ok := e.adapter.(exchange.RulesProvider)
	if !ok {
		return
	}
	for _, sym := range e.order {
		rules, err := withRetry(ctx, e.cfg.Retry, e.symbolEntry(sym), "instrument_rules", func(ctx context.Context) (exchange.InstrumentRules, error) {
			return provider.GetInstrumentRules(ctx, sym)
		})
		if err != nil {
			e.symbolEntry(sym).WithError(err).Warn("Не удалось получить ограничения торговой пары, объём не округляется.")
			continue
		}
		e.mu.Lock()
		e.rules[sym] = rules
		e.mu.Unlock()
		e.symbolEntry(sym).WithFields(map[string]interface{}{
			"qty_step": rules.QtyStep,
			"min_qty":  rules.MinQty,
		}).Info("Получены ограничения торговой пары.")
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Account:       e.account,
		OpenPositions: e.ledger.AllOpen(),
		Trades:        len(e.trades),
		Halted:        e.breaker.Halted(),
		Failures:      e.breaker.Consecutive(),
		Blocked:       e.ledger.Blocked(),
		Ticks:         e.ticks,
	}
}

func (e *Engine) Trades() []models.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ClosedTrade(nil), e.trades...)
}

func (e *Engine) linkID(suffix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s-%s", e.cfg.LinkPrefix, raw[:16], suffix)
}

func (e *Engine) equity() float64 {
	eq := e.balance
	for _, p := range e.ledger.AllOpen() {
		if st, ok := e.symbols[p.Symbol]; ok && st.lastPrice > 0 {
			eq += p.UnrealizedPnL(st.lastPrice)
		}
	}
	return eq
}

func (e *Engine) refreshRisk() {
	var risk float64
	for _, p := range e.ledger.AllOpen() {
		risk += p.RiskAmount
	}
	e.account.OpenRisk = risk
}

func (e *Engine) settle(trade models.ClosedTrade) {
	e.trades = append(e.trades, trade)
	e.balance += trade.PnL
	e.account.RealizedPnL += trade.PnL
	e.refreshRisk()
	e.log.WithTicket(uint64(trade.Ticket)).WithFields(map[string]interface{}{
		"symbol": trade.Symbol,
		"reason": trade.Reason,
		"entry":  trade.EntryPrice,
		"exit":   trade.ExitPrice,
		"qty":    trade.Quantity,
		"pnl":    trade.PnL,
	}).Info("Позиция закрыта.")
}

// fail учитывает сбой адаптера; при достижении потолка поднимает критическое оповещение.
func (e *Engine) fail(rep *TickReport, op, symbol string, err error) {
	rep.Failures++
	entry := e.logEntry().WithError(err).WithField("op", op)
	if symbol != "" {
		entry = entry.WithField("symbol", symbol)
	}
	entry.Warn("Сбой вызова биржи, повтор на следующем тике.")
	if e.breaker.Failure() {
		e.logEntry().WithFields(map[string]interface{}{
			"alert":    "critical",
			"failures": e.breaker.Consecutive(),
		}).Error("Достигнут потолок сбоев биржи, новые входы остановлены.")
	}
}
