package trailing

import (
	"fmt"
	"math"

	"trailbot/internal/models"
)

type Config struct {
	ProtectionFraction float64
}

func (c Config) Validate() error {
	if c.ProtectionFraction < 0 || c.ProtectionFraction > 1 {
		return fmt.Errorf("trailing_protection_fraction вне [0,1]: %f", c.ProtectionFraction)
	}
	return nil
}

type Update struct {
	Close     bool              `json:"close"`
	Reason    models.ExitReason `json:"reason,omitempty"`
	Price     float64           `json:"price"`
	PrevStop  float64           `json:"prev_stop"`
	Stop      float64           `json:"stop"`
	Ratcheted bool              `json:"ratcheted"`
	Invalid   bool              `json:"invalid,omitempty"`
}

type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) ProtectionFraction() float64 {
	return e.cfg.ProtectionFraction
}

// Update сдвигает трейлинг-стоп позиции по текущей цене и сообщает, нужно ли закрываться.
// Стоп двигается только в сторону прибыли; нулевая доля защиты отключает трейлинг.
func (e *Engine) Update(p *models.Position, price float64) Update {
	u := Update{Price: price, PrevStop: p.StopLoss, Stop: p.StopLoss}
	if !p.IsOpen() || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		u.Invalid = true
		return u
	}

	switch p.Direction {
	case models.DirectionLong:
		if p.BestPrice == 0 || price > p.BestPrice {
			p.BestPrice = price
		}
		profit := p.BestPrice - p.EntryPrice
		if profit > 0 && p.ProtectionFrac > 0 {
			candidate := p.EntryPrice + profit*p.ProtectionFrac
			if candidate > p.StopLoss {
				p.StopLoss = candidate
				u.Ratcheted = true
			}
		}
		u.Stop = p.StopLoss
		switch {
		case price <= p.StopLoss:
			u.Close = true
			u.Reason = stopReason(p)
		case price >= p.TakeProfit:
			u.Close = true
			u.Reason = models.ExitTakeProfit
		}
	case models.DirectionShort:
		if p.BestPrice == 0 || price < p.BestPrice {
			p.BestPrice = price
		}
		profit := p.EntryPrice - p.BestPrice
		if profit > 0 && p.ProtectionFrac > 0 {
			candidate := p.EntryPrice - profit*p.ProtectionFrac
			if candidate < p.StopLoss {
				p.StopLoss = candidate
				u.Ratcheted = true
			}
		}
		u.Stop = p.StopLoss
		switch {
		case price >= p.StopLoss:
			u.Close = true
			u.Reason = stopReason(p)
		case price <= p.TakeProfit:
			u.Close = true
			u.Reason = models.ExitTakeProfit
		}
	default:
		u.Invalid = true
	}
	return u
}

func stopReason(p *models.Position) models.ExitReason {
	if p.StopLoss != p.InitialStopLoss {
		return models.ExitTrailingStop
	}
	return models.ExitStopLoss
}
