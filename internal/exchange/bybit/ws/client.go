package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"trailbot/internal/logger"
)

// New публичный поток тикеров. Последние цены кэшируются и отдаются через LastPrice.
func New(url string, log *logger.Logger) *Client {
	return &Client{
		url:          url,
		log:          log,
		dialer:       websocket.DefaultDialer,
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		pingEvery:    20 * time.Second,
		prices:       map[string]quote{},
	}
}

func (w *Client) Connect(ctx context.Context, symbols []string) error {
	w.logEntry().WithField("url", w.url).Info("Подключение к WS.")

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}
	conn.SetReadLimit(2 << 20)
	if !w.setConn(conn) {
		return fmt.Errorf("WS клиент закрыт.")
	}

	w.topics = make([]string, 0, len(symbols))
	for _, s := range symbols {
		w.topics = append(w.topics, "tickers."+s)
	}
	if err := w.subscribe(); err != nil {
		return err
	}

	w.logEntry().Info("WS соединение установлено.")

	go w.readLoop()
	go w.pingLoop()
	return nil
}

func (w *Client) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.connMu.Lock()
		if w.conn != nil {
			_ = w.conn.Close()
		}
		w.connMu.Unlock()
	})
}

// LastPrice цена из кэша, если она не старше maxAge.
func (w *Client) LastPrice(symbol string, maxAge time.Duration) (float64, bool) {
	w.mu.RLock()
	q, ok := w.prices[symbol]
	w.mu.RUnlock()
	if !ok || q.price <= 0 {
		return 0, false
	}
	if maxAge > 0 && time.Since(q.at) > maxAge {
		return 0, false
	}
	return q.price, true
}

func (w *Client) subscribe() error {
	if len(w.topics) == 0 {
		return nil
	}
	w.connMu.Lock()
	defer w.connMu.Unlock()
	return w.conn.WriteJSON(SubscribeMessage{Op: "subscribe", Args: w.topics})
}

// setConn ставит новое соединение. После Close соединение сразу закрывается и не ставится.
func (w *Client) setConn(conn *websocket.Conn) bool {
	w.connMu.Lock()
	select {
	case <-w.stopCh:
		w.connMu.Unlock()
		_ = conn.Close()
		return false
	default:
	}
	old := w.conn
	w.conn = conn
	w.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return true
}

// stopContext контекст, который отменяется вызовом Close.
func (w *Client) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (w *Client) logEntry() *logrus.Entry {
	return w.log.WithComponent("bybit_ws")
}
