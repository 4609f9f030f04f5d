package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"trailbot/internal/backtest"
)

const (
	ResultFile = "result.json"
	TradesFile = "trades.csv"
	EquityFile = "equity.csv"
)

// Write сохраняет запись прогона в dir: result.json, trades.csv и equity.csv.
func Write(dir string, res *backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Не удалось создать каталог %s: %w", dir, err)
	}
	if err := writeFile(filepath.Join(dir, ResultFile), func(w io.Writer) error { return WriteJSON(w, res) }); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, TradesFile), func(w io.Writer) error { return WriteTradesCSV(w, res) }); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, EquityFile), func(w io.Writer) error { return WriteEquityCSV(w, res) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Не удалось создать %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("Ошибка записи %s: %w", path, err)
	}
	return f.Close()
}

func WriteJSON(w io.Writer, res *backtest.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func WriteTradesCSV(w io.Writer, res *backtest.Result) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"ticket", "symbol", "direction", "entry_time", "entry_price", "exit_time", "exit_price", "qty", "pnl", "reason"})
	for _, t := range res.Trades {
		cw.Write([]string{
			fmt.Sprintf("%d", t.Ticket),
			t.Symbol,
			string(t.Direction),
			ts(t.EntryTime),
			ftoa(t.EntryPrice),
			ts(t.ExitTime),
			ftoa(t.ExitPrice),
			ftoa(t.Quantity),
			ftoa(t.PnL),
			string(t.Reason),
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteEquityCSV(w io.Writer, res *backtest.Result) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"ts", "equity"})
	for _, p := range res.Equity {
		cw.Write([]string{ts(p.Time), ftoa(p.Equity)})
	}
	cw.Flush()
	return cw.Error()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }
func ftoa(x float64) string { return fmt.Sprintf("%.8f", x) }
