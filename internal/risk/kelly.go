package risk

import "trailbot/internal/models"

type KellyEstimate struct {
	Trades  int
	WinRate float64
	Payoff  float64
}

// Fraction классическая доля Келли p - (1-p)/b. Без убыточных сделок payoff не определён,
// тогда возвращается p.
func (k KellyEstimate) Fraction() float64 {
	if k.Trades == 0 {
		return 0
	}
	if k.Payoff <= 0 {
		return k.WinRate
	}
	return k.WinRate - (1-k.WinRate)/k.Payoff
}

func EstimateKelly(trades []models.ClosedTrade) KellyEstimate {
	var wins, losses int
	var sumWin, sumLoss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins++
			sumWin += t.PnL
		case t.PnL < 0:
			losses++
			sumLoss += -t.PnL
		}
	}
	est := KellyEstimate{Trades: len(trades)}
	if len(trades) > 0 {
		est.WinRate = float64(wins) / float64(len(trades))
	}
	if wins > 0 && losses > 0 {
		est.Payoff = (sumWin / float64(wins)) / (sumLoss / float64(losses))
	}
	return est
}
