package gateway

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a blocking token bucket bounding outbound requests per
// second toward the gateway, shared across concurrent chunk sends.
type rateLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newRateLimiter(perSecond int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &rateLimiter{
		rate:   float64(perSecond),
		burst:  float64(perSecond),
		tokens: float64(perSecond),
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or the context is done.
func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.last = now

		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
