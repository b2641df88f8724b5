// ratelimit.go implements token-bucket pacing for the venue API.
//
// The venue enforces limits at three horizons: per second, per minute, and
// per day. Each horizon gets a token bucket with continuous refill (rather
// than window-edge bursts) so sustained callers glide under the hard limits.
// A call must take one token from every bucket before it proceeds.
package broker

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter with continuous refill. Callers block in
// Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a bucket with the given burst capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// TryTake takes a token without blocking and reports success.
func (tb *TokenBucket) TryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Pacer stacks the venue's three rate horizons. Every API call waits on all
// of them; the tightest horizon governs.
type Pacer struct {
	Second *TokenBucket // 10 calls per second
	Minute *TokenBucket // 200 calls per minute
	Day    *TokenBucket // 100k calls per day
}

// NewPacer creates buckets tuned to the venue's published limits.
func NewPacer() *Pacer {
	return &Pacer{
		Second: NewTokenBucket(10, 10),
		Minute: NewTokenBucket(200, 200.0/60),
		Day:    NewTokenBucket(100000, 100000.0/86400),
	}
}

// Wait blocks until all horizons admit one call, or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.Day.Wait(ctx); err != nil {
		return err
	}
	if err := p.Minute.Wait(ctx); err != nil {
		return err
	}
	return p.Second.Wait(ctx)
}
