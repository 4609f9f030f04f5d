package data

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"trailbot/internal/models"
)

// Колонки, которые обязан содержать заголовок.
var requiredColumns = []string{"timestamp", "open", "high", "low", "close"}

// ParseReport счётчики строк, отброшенных ещё на разборе.
type ParseReport struct {
	Rows    int `json:"rows"`
	Invalid int `json:"invalid"`
}

// ReadCSV читает свечи с индикаторами. Колонки ищутся по заголовку, порядок произвольный.
// Файлы в UTF-16 с BOM перекодируются в UTF-8.
func ReadCSV(r io.Reader, symbol string) ([]models.Bar, ParseReport, error) {
	var rep ParseReport

	br := bufio.NewReader(r)
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		br = bufio.NewReader(transform.NewReader(br, dec))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, rep, fmt.Errorf("Не удалось прочитать заголовок CSV: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[name] = i
	}
	if _, ok := cols["timestamp"]; !ok {
		if i, ok := cols["timestamp_ms"]; ok {
			cols["timestamp"] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, rep, fmt.Errorf("В CSV нет колонки %q", c)
		}
	}

	var bars []models.Bar
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		rep.Rows++
		if err != nil {
			rep.Invalid++
			continue
		}
		bar, err := parseRow(rec, cols, symbol)
		if err != nil {
			rep.Invalid++
			continue
		}
		bars = append(bars, bar)
	}
	return bars, rep, nil
}

// LoadCSV читает файл целиком.
func LoadCSV(path, symbol string) ([]models.Bar, ParseReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ParseReport{}, fmt.Errorf("Не удалось открыть %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

func parseRow(rec []string, cols map[string]int, symbol string) (models.Bar, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(strings.Trim(rec[i], `"`)), true
	}
	num := func(name string) (float64, error) {
		s, ok := field(name)
		if !ok || s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	flag := func(name string) bool {
		s, _ := field(name)
		switch strings.ToLower(s) {
		case "1", "true", "yes":
			return true
		}
		return false
	}

	bar := models.Bar{Symbol: symbol}
	if s, ok := field("symbol"); ok && s != "" {
		bar.Symbol = s
	}

	ts, _ := field("timestamp")
	t, err := parseTime(ts)
	if err != nil {
		return bar, err
	}
	bar.Timestamp = t

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close},
		{"volume", &bar.Volume}, {"oscillator", &bar.Oscillator}, {"atr", &bar.ATR},
		{"volume_ratio", &bar.VolumeRatio}, {"confidence", &bar.Confidence},
	} {
		v, err := num(f.name)
		if err != nil {
			return bar, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	bar.TrendUp = flag("trend_up")
	bar.TrendDown = flag("trend_down")

	if s, ok := field("bias"); ok {
		switch models.Direction(strings.ToUpper(s)) {
		case models.DirectionLong:
			bar.Bias = models.DirectionLong
		case models.DirectionShort:
			bar.Bias = models.DirectionShort
		}
	}
	return bar, nil
}

// parseTime принимает RFC3339, "2006-01-02 15:04:05" или unix-время в секундах либо миллисекундах.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("пустое время")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("не удалось разобрать время %q", s)
}
