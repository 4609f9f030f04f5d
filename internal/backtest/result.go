package backtest

import (
	"time"

	"trailbot/internal/data"
	"trailbot/internal/metrics"
	"trailbot/internal/models"
	"trailbot/internal/risk"
)

type RejectedEntry struct {
	Time      time.Time        `json:"time"`
	Symbol    string           `json:"symbol"`
	Direction models.Direction `json:"direction"`
	Reason    risk.Reason      `json:"reason"`
	Detail    string           `json:"detail,omitempty"`
}

type SkippedBar struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Error  string    `json:"error"`
}

type Diagnostics struct {
	BarsProcessed       int                    `json:"bars_processed"`
	SkippedBars         int                    `json:"skipped_bars"`
	Skipped             []SkippedBar           `json:"skipped,omitempty"`
	Signals             int                    `json:"signals"`
	Entries             int                    `json:"entries"`
	RejectedByReason    map[risk.Reason]int    `json:"rejected_by_reason"`
	Rejected            []RejectedEntry        `json:"rejected,omitempty"`
	StageFailures       map[string]int         `json:"stage_failures"`
	InvariantViolations int                    `json:"invariant_violations"`
	Load                map[string]data.Report `json:"load,omitempty"`
}

func newDiagnostics() Diagnostics {
	return Diagnostics{
		RejectedByReason: map[risk.Reason]int{},
		StageFailures:    map[string]int{},
	}
}

func (d *Diagnostics) reject(bar models.Bar, dir models.Direction, rej risk.Rejection) {
	d.RejectedByReason[rej.Reason]++
	d.Rejected = append(d.Rejected, RejectedEntry{
		Time:      bar.Timestamp,
		Symbol:    bar.Symbol,
		Direction: dir,
		Reason:    rej.Reason,
		Detail:    rej.Detail,
	})
}

// Result запись одного прогона. Передаётся во внешние хранилища как есть.
type Result struct {
	RunID         string                `json:"run_id"`
	Strategy      string                `json:"strategy"`
	Symbols       []string              `json:"symbols"`
	InitialEquity float64               `json:"initial_equity"`
	Trades        []models.ClosedTrade  `json:"trades"`
	Equity        []metrics.EquityPoint `json:"equity"`
	Summary       metrics.Summary       `json:"summary"`
	OpenPositions []models.Position     `json:"open_positions"`
	Account       models.AccountState   `json:"account"`
	Diagnostics   Diagnostics           `json:"diagnostics"`
}
