package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"trailbot/internal/models"
)

// Adapter граница исполнения, которую использует живой цикл.
type Adapter interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, order models.Order) (models.OrderAck, error)
	GetOpenPositions(ctx context.Context) ([]models.ExternalPosition, error)
}

type InstrumentRules struct {
	TickSize float64
	QtyStep  float64
	MinQty   float64
}

// RulesProvider реализуют адаптеры, которые знают шаг объёма инструмента.
type RulesProvider interface {
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
}

var (
	ErrRateLimited = errors.New("Превышен лимит запросов.")
	ErrUnavailable = errors.New("Биржа недоступна.")
)

// APIError ответ биржи с ненулевым кодом или неуспешным HTTP статусом.
type APIError struct {
	Code   int
	Msg    string
	Status int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("Ошибка bybit: %s (code=%d)", e.Msg, e.Code)
	}
	return fmt.Sprintf("Неуспешный статус: %d %s", e.Status, e.Msg)
}

func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 10006 || apiErr.Status == 429) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Too many visits!") || strings.Contains(msg, "429") || strings.Contains(msg, "10006")
}

// IsTransient ошибка, после которой запрос имеет смысл повторить на следующем тике.
// Для ордера такая ошибка означает неизвестный исход.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) || errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Code == 10016 || apiErr.Code == 10002
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func IsDuplicateLinkID(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 110072 || apiErr.Code == 170141) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate clientOrderId")
}
