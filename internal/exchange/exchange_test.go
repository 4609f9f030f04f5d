package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		rateLimit bool
	}{
		{"nil", nil, false, false},
		{"rate limit code", &APIError{Code: 10006, Msg: "Too many visits!"}, true, true},
		{"http 429", &APIError{Status: 429}, true, true},
		{"wrapped sentinel", fmt.Errorf("tickers: %w", ErrRateLimited), true, true},
		{"server error", &APIError{Status: 502, Msg: "Bad Gateway"}, true, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true, false},
		{"unavailable", ErrUnavailable, true, false},
		{"insufficient balance", &APIError{Code: 110007, Msg: "ab not enough for new order"}, false, false},
		{"plain", errors.New("boom"), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := IsRateLimit(tc.err); got != tc.rateLimit {
				t.Fatalf("IsRateLimit = %v, want %v", got, tc.rateLimit)
			}
		})
	}
}

func TestIsDuplicateLinkID(t *testing.T) {
	if !IsDuplicateLinkID(&APIError{Code: 110072}) {
		t.Fatalf("110072 must be a duplicate link id")
	}
	if IsDuplicateLinkID(&APIError{Code: 10001}) {
		t.Fatalf("10001 is not a duplicate")
	}
}
