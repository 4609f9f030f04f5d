package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trailbot/internal/models"
)

var (
	ErrSlotLimit     = errors.New("Достигнут лимит одновременных позиций.")
	ErrSymbolLimit   = errors.New("По символу уже есть открытая позиция.")
	ErrSymbolBlocked = errors.New("Символ заблокирован до следующей чистой сверки.")
	ErrUnknownTicket = errors.New("Неизвестный тикет.")
	ErrNotOpen       = errors.New("Позиция не открыта.")
)

type Config struct {
	MaxOpen      int
	OnePerSymbol bool
}

// Ledger хранит позиции в арене: тикет N указывает на arena[N-1], закрытые записи не удаляются.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	arena     []models.Position
	open      map[string][]int
	openCount int
	blocked   map[string]bool
	conflicts map[string]bool
}

func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		open:      map[string][]int{},
		blocked:   map[string]bool{},
		conflicts: map[string]bool{},
	}
}

func (l *Ledger) canOpenLocked(symbol string) error {
	if l.cfg.MaxOpen > 0 && l.openCount >= l.cfg.MaxOpen {
		return ErrSlotLimit
	}
	if l.cfg.OnePerSymbol && len(l.open[symbol]) > 0 {
		return ErrSymbolLimit
	}
	if l.blocked[symbol] || l.conflicts[symbol] {
		return ErrSymbolBlocked
	}
	return nil
}

func (l *Ledger) CanOpen(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canOpenLocked(symbol)
}

// Open регистрирует новую позицию. Инварианты лимитов проверяются повторно, даже если
// вызывающий уже получил одобрение сайзера.
func (l *Ledger) Open(p models.Position) (models.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Symbol == "" {
		return 0, fmt.Errorf("Пустой символ позиции.")
	}
	if p.Quantity <= 0 {
		return 0, fmt.Errorf("Некорректный объём позиции: %f", p.Quantity)
	}
	if err := l.canOpenLocked(p.Symbol); err != nil {
		return 0, err
	}

	p.Ticket = models.Ticket(len(l.arena) + 1)
	p.Status = models.PositionOpen
	if p.BestPrice == 0 {
		p.BestPrice = p.EntryPrice
	}
	l.arena = append(l.arena, p)
	l.open[p.Symbol] = append(l.open[p.Symbol], len(l.arena)-1)
	l.openCount++
	return p.Ticket, nil
}

func (l *Ledger) index(ticket models.Ticket) (int, error) {
	idx := int(ticket) - 1
	if idx < 0 || idx >= len(l.arena) {
		return 0, ErrUnknownTicket
	}
	return idx, nil
}

func (l *Ledger) Get(ticket models.Ticket) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, err := l.index(ticket)
	if err != nil {
		return models.Position{}, false
	}
	return l.arena[idx], true
}

// Update применяет fn к открытой позиции. Идентичность и статус позиции fn менять не может.
func (l *Ledger) Update(ticket models.Ticket, fn func(p *models.Position)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, err := l.index(ticket)
	if err != nil {
		return err
	}
	p := &l.arena[idx]
	if !p.IsOpen() {
		return ErrNotOpen
	}
	ticketID, symbol, dir := p.Ticket, p.Symbol, p.Direction
	fn(p)
	p.Ticket, p.Symbol, p.Direction, p.Status = ticketID, symbol, dir, models.PositionOpen
	return nil
}

func (l *Ledger) Close(ticket models.Ticket, price float64, ts time.Time, reason models.ExitReason) (models.ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(ticket, price, ts, reason)
}

func (l *Ledger) closeLocked(ticket models.Ticket, price float64, ts time.Time, reason models.ExitReason) (models.ClosedTrade, error) {
	idx, err := l.index(ticket)
	if err != nil {
		return models.ClosedTrade{}, err
	}
	p := &l.arena[idx]
	if !p.IsOpen() {
		return models.ClosedTrade{}, ErrNotOpen
	}
	p.Status = models.PositionClosed
	p.PendingClose = false

	open := l.open[p.Symbol]
	for i, v := range open {
		if v == idx {
			open = append(open[:i], open[i+1:]...)
			break
		}
	}
	if len(open) == 0 {
		delete(l.open, p.Symbol)
	} else {
		l.open[p.Symbol] = open
	}
	l.openCount--

	return models.ClosedTrade{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		EntryTime:  p.EntryTime,
		ExitTime:   ts,
		Quantity:   p.Quantity,
		PnL:        p.UnrealizedPnL(price),
		Reason:     reason,
	}, nil
}

func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openCount
}

func (l *Ledger) HasOpen(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open[symbol]) > 0
}

// OpenPositions копии открытых позиций символа в порядке открытия.
func (l *Ledger) OpenPositions(symbol string) []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, len(l.open[symbol]))
	for _, idx := range l.open[symbol] {
		out = append(out, l.arena[idx])
	}
	return out
}

// AllOpen копии всех открытых позиций, отсортированные по тикету.
func (l *Ledger) AllOpen() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, l.openCount)
	for _, idxs := range l.open {
		for _, idx := range idxs {
			out = append(out, l.arena[idx])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}
