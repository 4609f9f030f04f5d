package models

import (
	"math"
	"time"
)

type Direction string
type OrderSide string
type PositionStatus string
type ExitReason string

const (
	DirectionNone  Direction = "NONE"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"

	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"

	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"

	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitTrailingStop   ExitReason = "trailing_stop"
	ExitStrategySignal ExitReason = "strategy_signal"
	ExitReconciled     ExitReason = "reconciled"
)

// Sign возвращает +1 для LONG, -1 для SHORT и 0 для NONE.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// EntrySide сторона ордера, открывающего позицию в данном направлении.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (d Direction) ExitSide() OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

type Bar struct {
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	TrendUp     bool      `json:"trend_up"`
	TrendDown   bool      `json:"trend_down"`
	Oscillator  float64   `json:"oscillator"`
	ATR         float64   `json:"atr"`
	VolumeRatio float64   `json:"volume_ratio"`
	Confidence  float64   `json:"confidence"`
	Bias        Direction `json:"bias,omitempty"`
}

// Finite проверяет, что все числовые поля свечи конечны.
func (b Bar) Finite() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume, b.Oscillator, b.ATR, b.VolumeRatio, b.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type Ticket uint64

type Position struct {
	Ticket            Ticket         `json:"ticket"`
	Symbol            string         `json:"symbol"`
	Direction         Direction      `json:"direction"`
	EntryPrice        float64        `json:"entry_price"`
	EntryTime         time.Time      `json:"entry_time"`
	Quantity          float64        `json:"quantity"`
	InitialStopLoss   float64        `json:"initial_stop_loss"`
	TakeProfit        float64        `json:"take_profit"`
	StopLoss          float64        `json:"stop_loss"`
	BestPrice         float64        `json:"best_price"`
	ProtectionFrac    float64        `json:"protection_fraction"`
	RiskAmount        float64        `json:"risk_amount"`
	Status            PositionStatus `json:"status"`
	PendingClose      bool           `json:"pending_close"`
	PendingReason     ExitReason     `json:"pending_reason,omitempty"`
	PendingPrice      float64        `json:"pending_price,omitempty"`
	PendingCloseSince time.Time      `json:"pending_close_since,omitempty"`
	OrderLinkID       string         `json:"order_link_id,omitempty"`
}

func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// UnrealizedPnL нереализованный результат позиции по цене price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction.Sign() * p.Quantity
}

// StopDistance расстояние от цены входа до начального стопа.
func (p *Position) StopDistance() float64 {
	return math.Abs(p.EntryPrice - p.InitialStopLoss)
}

type ClosedTrade struct {
	Ticket     Ticket     `json:"ticket"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
}

type AccountState struct {
	Equity      float64 `json:"equity"`
	PeakEquity  float64 `json:"peak_equity"`
	RealizedPnL float64 `json:"realized_pnl"`
	OpenRisk    float64 `json:"open_risk"`
}

func NewAccountState(initial float64) AccountState {
	return AccountState{Equity: initial, PeakEquity: initial}
}

// Drawdown текущая просадка от пика в долях [0,1].
func (a AccountState) Drawdown() float64 {
	if a.PeakEquity <= 0 {
		return 0
	}
	dd := (a.PeakEquity - a.Equity) / a.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Mark обновляет equity и пик.
func (a *AccountState) Mark(equity float64) {
	a.Equity = equity
	if equity > a.PeakEquity {
		a.PeakEquity = equity
	}
}

type ExternalPosition struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
}

type Order struct {
	LinkID     string    `json:"link_id"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	ReduceOnly bool      `json:"reduce_only"`
	QtyStep    float64   `json:"qty_step"`
}

type OrderAck struct {
	OrderID string    `json:"order_id"`
	LinkID  string    `json:"link_id"`
	Price   float64   `json:"price"`
	Time    time.Time `json:"time"`
}

type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}
