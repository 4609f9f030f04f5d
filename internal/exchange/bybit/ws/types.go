package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trailbot/internal/logger"
)

type Client struct {
	url          string
	log          *logger.Logger
	dialer       *websocket.Dialer
	connMu       sync.Mutex
	conn         *websocket.Conn
	stopCh       chan struct{}
	stopOnce     sync.Once
	topics       []string
	reconnectMin time.Duration
	reconnectMax time.Duration
	pingEvery    time.Duration

	mu     sync.RWMutex
	prices map[string]quote
}

type quote struct {
	price float64
	at    time.Time
}

type Message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type SubscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}
