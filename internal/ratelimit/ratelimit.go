// Package ratelimit implements a per-caller token bucket rate limiter for the
// HTTP gateway. Each caller gets an independent golang.org/x/time/rate
// limiter; one caller cannot exhaust another's quota.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a caller has exhausted their bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // 0 = unlimited (Allow always succeeds).
	BurstSize         int // 0 = RequestsPerMinute.
}

// Limiter hands out one rate.Limiter per caller.
type Limiter struct {
	mu      sync.Mutex
	callers map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewLimiter creates a limiter. If RequestsPerMinute is 0, Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(0)
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &Limiter{
		callers: make(map[string]*rate.Limiter),
		limit:   limit,
		burst:   burst,
	}
}

// Allow consumes one token from the caller's bucket. A new caller starts
// with a full bucket.
func (l *Limiter) Allow(caller string) error {
	if l.limit <= 0 {
		return nil
	}
	if !l.limiterFor(caller).Allow() {
		return ErrRateLimited
	}
	return nil
}

// Callers returns the number of callers with a bucket.
func (l *Limiter) Callers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

func (l *Limiter) limiterFor(caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.callers[caller]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.callers[caller] = lim
	}
	return lim
}
