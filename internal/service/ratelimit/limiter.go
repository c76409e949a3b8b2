package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per upstream, created on first use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) bucket(key string, perSec float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(perSec), burst)
		l.buckets[key] = b
		return b
	}
	if b.Limit() != rate.Limit(perSec) {
		b.SetLimit(rate.Limit(perSec))
	}
	if b.Burst() != burst {
		b.SetBurst(burst)
	}
	return b
}

// Allow consumes a token for key if one is available right now.
func (l *Limiter) Allow(key string, perSec float64, burst int) bool {
	if perSec <= 0 {
		return true
	}
	return l.bucket(key, perSec, burst).Allow()
}

// Wait blocks until key has a token or ctx is done. A non-positive rate
// disables limiting.
func (l *Limiter) Wait(ctx context.Context, key string, perSec float64, burst int) error {
	if perSec <= 0 {
		return nil
	}
	return l.bucket(key, perSec, burst).Wait(ctx)
}
