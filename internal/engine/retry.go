package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"trailbot/internal/exchange"
)

// RetryPolicy единая политика повторов для вызовов адаптера.
type RetryPolicy struct {
	Attempts            int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	RateLimitMultiplier float64
	CallTimeout         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:            3,
		BaseBackoff:         500 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		RateLimitMultiplier: 4,
		CallTimeout:         10 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry_attempts должен быть >= 1: %d", p.Attempts)
	}
	if p.BaseBackoff < 0 || p.MaxBackoff < p.BaseBackoff {
		return fmt.Errorf("Некорректные параметры backoff: %s..%s", p.BaseBackoff, p.MaxBackoff)
	}
	if p.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout должен быть > 0: %s", p.CallTimeout)
	}
	return nil
}

func (p RetryPolicy) wait(backoff time.Duration, err error) time.Duration {
	wait := backoff
	if exchange.IsRateLimit(err) && p.RateLimitMultiplier > 1 {
		wait = time.Duration(float64(backoff) * p.RateLimitMultiplier)
	}
	if wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// withRetry повторяет fn только на временных ошибках, каждый вызов ограничен CallTimeout.
func withRetry[T any](ctx context.Context, p RetryPolicy, log *logrus.Entry, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := p.BaseBackoff
	for i := 0; i < p.Attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		res, err := fn(callCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !exchange.IsTransient(err) || i == p.Attempts-1 {
			break
		}

		wait := p.wait(backoff, err)
		log.WithError(err).WithFields(map[string]interface{}{
			"op":      op,
			"attempt": i + 1,
			"wait":    wait.String(),
		}).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return zero, lastErr
}
