package types

import (
	"errors"
	"fmt"
	"time"
)

// Broker and market-data ports surface failures through this small taxonomy
// so callers can branch with errors.Is / errors.As instead of matching
// strings from venue payloads.

var (
	// ErrAuthExpired means the access token was refused; the token
	// lifecycle must refresh before the call can be retried.
	ErrAuthExpired = errors.New("broker: auth token expired")

	// ErrInvalidSymbol means the venue does not recognize the instrument.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")

	// ErrOrderNotFound means the referenced order ID is unknown at the venue.
	ErrOrderNotFound = errors.New("broker: order not found")

	// ErrHalted means the kill switch is engaged and mutating calls are
	// refused locally.
	ErrHalted = errors.New("trading halted")
)

// RateLimitError is returned when the venue (or the local limiter) refuses a
// call for pacing reasons. RetryAfter is advisory; zero means unknown.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("broker: rate limited, retry after %s", e.RetryAfter)
	}
	return "broker: rate limited"
}

// UpstreamError wraps a venue-side failure: HTTP status plus the venue's own
// code and message, preserved for the journal.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("broker: upstream %d %s: %s", e.Status, e.Code, e.Message)
}

// IsRetryable reports whether a call failing with err may be retried
// without operator intervention.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Status >= 500
	}
	return false
}
