package data

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"trailbot/internal/models"
)

// FileFeed отдаёт хвост CSV, который пишет внешний расчёт индикаторов.
// Путь берётся из шаблона, где {symbol} заменяется на символ.
type FileFeed struct {
	template string

	mu    sync.Mutex
	cache map[string]cachedFile
}

type cachedFile struct {
	modTime time.Time
	bars    []models.Bar
}

func NewFileFeed(template string) *FileFeed {
	return &FileFeed{template: template, cache: map[string]cachedFile{}}
}

func (f *FileFeed) Path(symbol string) string {
	return strings.ReplaceAll(f.template, "{symbol}", symbol)
}

// Window последние n проверенных свечей символа. Файл перечитывается только при изменении.
func (f *FileFeed) Window(ctx context.Context, symbol string, n int) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.Path(symbol)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("Файл свечей %s недоступен: %w", path, err)
	}

	f.mu.Lock()
	c, ok := f.cache[symbol]
	f.mu.Unlock()

	if !ok || !info.ModTime().Equal(c.modTime) {
		raw, _, err := LoadCSV(path, symbol)
		if err != nil {
			return nil, err
		}
		bars, _ := Validate(raw)
		c = cachedFile{modTime: info.ModTime(), bars: bars}
		f.mu.Lock()
		f.cache[symbol] = c
		f.mu.Unlock()
	}

	bars := c.bars
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return append([]models.Bar(nil), bars...), nil
}

// GetCurrentPrice цена закрытия последней свечи, для бумажной торговли по файлам.
func (f *FileFeed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := f.Window(ctx, symbol, 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("Нет свечей для %s.", symbol)
	}
	return bars[0].Close, nil
}
