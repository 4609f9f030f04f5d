package metrics

import (
	"math"
	"time"

	"trailbot/internal/models"
)

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Summary итог прогона. Все доли лежат в [0,1] и никогда не выражаются в процентах,
// кроме Return, который может быть отрицательным.
type Summary struct {
	TotalTrades          int     `json:"total_trades"`
	Wins                 int     `json:"wins"`
	Losses               int     `json:"losses"`
	WinRate              float64 `json:"win_rate"`
	TotalPnL             float64 `json:"total_pnl"`
	GrossProfit          float64 `json:"gross_profit"`
	GrossLoss            float64 `json:"gross_loss"`
	ProfitFactor         float64 `json:"profit_factor"`
	ProfitFactorInfinite bool    `json:"profit_factor_infinite"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	Expectancy           float64 `json:"expectancy"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	InitialEquity        float64 `json:"initial_equity"`
	FinalEquity          float64 `json:"final_equity"`
	Return               float64 `json:"return"`
}

// Summarize сворачивает закрытые сделки и кривую капитала.
// Сделка с нулевым результатом не считается ни выигрышной, ни проигрышной.
func Summarize(trades []models.ClosedTrade, curve []EquityPoint, initialEquity float64) Summary {
	s := Summary{TotalTrades: len(trades), InitialEquity: initialEquity, FinalEquity: initialEquity}

	for _, t := range trades {
		s.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
			s.GrossProfit += t.PnL
		case t.PnL < 0:
			s.Losses++
			s.GrossLoss += -t.PnL
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
		s.Expectancy = s.TotalPnL / float64(s.TotalTrades)
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.Losses)
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		// JSON не умеет +Inf, поэтому бесконечность передаётся флагом
		s.ProfitFactorInfinite = true
	}

	s.MaxDrawdown = MaxDrawdown(curve)
	if len(curve) > 0 {
		s.FinalEquity = curve[len(curve)-1].Equity
	}
	if initialEquity > 0 {
		s.Return = (s.FinalEquity - initialEquity) / initialEquity
	}
	return s
}

// MaxDrawdown наибольшее (peak - trough) / peak по кривой, в [0,1].
func MaxDrawdown(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range curve {
		if math.IsNaN(p.Equity) {
			continue
		}
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	if maxDD > 1 {
		maxDD = 1
	}
	return maxDD
}
