package ws

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

func (w *Client) readLoop() {
	w.logEntry().Debug("readLoop запущен.")

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			w.logEntry().WithError(err).Warn("Ошибка чтения WS.")
			if !w.reconnect() {
				return
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}
		if strings.HasPrefix(msg.Topic, "tickers") {
			w.handleTicker(msg)
		}
	}
}

type tickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

// handleTicker принимает и snapshot, и delta; delta без lastPrice цену не меняет.
func (w *Client) handleTicker(msg Message) {
	var items []tickerData
	if err := json.Unmarshal(msg.Data, &items); err != nil {
		var single tickerData
		if err := json.Unmarshal(msg.Data, &single); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать ticker.")
			return
		}
		items = append(items, single)
	}

	at := time.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}
	for _, item := range items {
		if item.LastPrice == "" {
			continue
		}
		price, err := strconv.ParseFloat(item.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		w.mu.Lock()
		w.prices[item.Symbol] = quote{price: price, at: at}
		w.mu.Unlock()
	}
}

func (w *Client) pingLoop() {
	ticker := time.NewTicker(w.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.connMu.Lock()
			err := w.conn.WriteJSON(map[string]string{"op": "ping"})
			w.connMu.Unlock()
			if err != nil {
				w.logEntry().WithError(err).Debug("Не удалось отправить ping.")
			}
		}
	}
}

func (w *Client) reconnect() bool {
	backoff := w.reconnectMin

	for {
		select {
		case <-w.stopCh:
			return false
		case <-time.After(backoff):
		}

		w.logEntry().Info("Попытка переподключения к WS.")

		ctx, cancel := w.stopContext()
		conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
		cancel()
		if err != nil {
			w.logEntry().WithError(err).Warn("Не удалось переподключиться к WS.")
			backoff = w.nextBackoff(backoff)
			continue
		}
		conn.SetReadLimit(2 << 20)
		if !w.setConn(conn) {
			return false
		}

		if err := w.subscribe(); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось повторно подписаться на WS.")
			backoff = w.nextBackoff(backoff)
			continue
		}

		w.logEntry().Info("WS переподключён и подписки восстановлены.")
		return true
	}
}

func (w *Client) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}
