package engine

import (
	"time"

	"trailbot/internal/models"
)

// symbolState то, что живой цикл помнит о символе между тиками.
type symbolState struct {
	lastBar     time.Time
	lastAttempt time.Time
	lastPrice   float64
	// pendingEntry вход с неизвестным исходом, ждёт подтверждения сверкой.
	pendingEntry *models.Position
}

// Status снимок состояния для логов и CLI.
type Status struct {
	Account       models.AccountState `json:"account"`
	OpenPositions []models.Position   `json:"open_positions"`
	Trades        int                 `json:"trades"`
	Halted        bool                `json:"halted"`
	Failures      int                 `json:"consecutive_failures"`
	Blocked       []string            `json:"blocked"`
	Ticks         int                 `json:"ticks"`
}
