package backtest

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"trailbot/internal/models"
)

// RunIsolated прогоняет символы параллельно, каждый со своим счётом и ledger.
// Общего изменяемого состояния между символами нет, поэтому результат совпадает
// с последовательными прогонами по одному символу.
func (s *Stepper) RunIsolated(ctx context.Context, series map[string][]models.Bar, workers int) (map[string]*Result, error) {
	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	results := make([]*Result, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			res, err := s.Run(gctx, map[string][]models.Bar{sym: series[sym]})
			if err != nil {
				return fmt.Errorf("%s: %w", sym, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Result, len(symbols))
	for i, sym := range symbols {
		out[sym] = results[i]
	}
	return out, nil
}
