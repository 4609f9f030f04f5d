package ledger

import (
	"fmt"
	"sort"
	"time"

	"trailbot/internal/models"
)

type ConflictKind string

const (
	// ConflictMissingExternally: локально открыта, на бирже нет.
	ConflictMissingExternally ConflictKind = "missing_externally"
	// ConflictUntracked: на бирже открыта, локально нет.
	ConflictUntracked ConflictKind = "untracked"
	// ConflictDirection: направления не совпадают.
	ConflictDirection ConflictKind = "direction_mismatch"
)

type Conflict struct {
	Symbol string       `json:"symbol"`
	Kind   ConflictKind `json:"kind"`
	Detail string       `json:"detail"`
}

type ReconcileReport struct {
	Closed    []models.ClosedTrade `json:"closed"`
	Resolved  []models.ClosedTrade `json:"resolved"`
	Conflicts []Conflict           `json:"conflicts"`
	Blocked   []string             `json:"blocked"`
}

func (r ReconcileReport) Clean() bool {
	return len(r.Conflicts) == 0
}

// Reconcile сверяет локальные позиции с биржей. Внешнее состояние считается истинным:
// локальные позиции без внешней пары закрываются, внешние без локальной пары блокируют символ.
// Позиции с PendingClose, пропавшие с биржи, закрываются с сохранённой причиной и не считаются конфликтом.
// Набор конфликтов пересчитывается на каждом вызове, поэтому блокировка снимается на следующей чистой сверке.
func (l *Ledger) Reconcile(external []models.ExternalPosition, marks map[string]float64, ts time.Time) ReconcileReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	ext := make(map[string]models.ExternalPosition, len(external))
	for _, e := range external {
		if e.Quantity > 0 {
			ext[e.Symbol] = e
		}
	}

	var report ReconcileReport
	conflicts := map[string]bool{}
	blocked := map[string]bool{}

	symbols := make([]string, 0, len(l.open))
	for s := range l.open {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		idxs := append([]int(nil), l.open[symbol]...)
		e, present := ext[symbol]
		for _, idx := range idxs {
			p := l.arena[idx]
			switch {
			case !present && p.PendingClose:
				trade, err := l.closeLocked(p.Ticket, p.PendingPrice, ts, p.PendingReason)
				if err == nil {
					report.Resolved = append(report.Resolved, trade)
				}
			case !present:
				price := p.EntryPrice
				if m, ok := marks[symbol]; ok && m > 0 {
					price = m
				}
				trade, err := l.closeLocked(p.Ticket, price, ts, models.ExitReconciled)
				if err == nil {
					report.Closed = append(report.Closed, trade)
				}
				conflicts[symbol] = true
				report.Conflicts = append(report.Conflicts, Conflict{
					Symbol: symbol,
					Kind:   ConflictMissingExternally,
					Detail: fmt.Sprintf("тикет %d закрыт по сверке", p.Ticket),
				})
			case e.Direction != p.Direction:
				price := p.EntryPrice
				if m, ok := marks[symbol]; ok && m > 0 {
					price = m
				}
				trade, err := l.closeLocked(p.Ticket, price, ts, models.ExitReconciled)
				if err == nil {
					report.Closed = append(report.Closed, trade)
				}
				conflicts[symbol] = true
				blocked[symbol] = true
				report.Conflicts = append(report.Conflicts, Conflict{
					Symbol: symbol,
					Kind:   ConflictDirection,
					Detail: fmt.Sprintf("локально %s, на бирже %s", p.Direction, e.Direction),
				})
			}
		}
	}

	extSymbols := make([]string, 0, len(ext))
	for s := range ext {
		extSymbols = append(extSymbols, s)
	}
	sort.Strings(extSymbols)
	for _, symbol := range extSymbols {
		if blocked[symbol] || len(l.open[symbol]) > 0 {
			continue
		}
		e := ext[symbol]
		conflicts[symbol] = true
		blocked[symbol] = true
		report.Conflicts = append(report.Conflicts, Conflict{
			Symbol: symbol,
			Kind:   ConflictUntracked,
			Detail: fmt.Sprintf("на бирже %s %f без локальной позиции", e.Direction, e.Quantity),
		})
	}

	l.conflicts = conflicts
	l.blocked = blocked
	for s := range blocked {
		report.Blocked = append(report.Blocked, s)
	}
	sort.Strings(report.Blocked)
	return report
}

// Blocked символы, заблокированные последней сверкой.
func (l *Ledger) Blocked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.blocked)+len(l.conflicts))
	seen := map[string]bool{}
	for s := range l.blocked {
		seen[s] = true
		out = append(out, s)
	}
	for s := range l.conflicts {
		if !seen[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
