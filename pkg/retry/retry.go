package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy describes bounded exponential backoff for transient failures.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
	// Retryable reports whether err is worth another attempt. Nil means every error is.
	Retryable func(err error) bool
	// OnRetry is called before sleeping; attempt is 1-based.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Policy.
type Option func(*Policy)

// New builds a policy with 3 attempts, 4s..10s backoff and multiplier 2.
func New(opts ...Option) *Policy {
	p := &Policy{
		MaxAttempts:    3,
		InitialBackoff: 4 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// WithMaxAttempts sets the total number of attempts, including the first one.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

// WithBackoff sets initial and max backoff plus the growth multiplier.
func WithBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(p *Policy) {
		p.InitialBackoff = initial
		p.MaxBackoff = max
		p.Multiplier = multiplier
	}
}

// WithJitter randomises each delay within [d/2, d).
func WithJitter(enabled bool) Option {
	return func(p *Policy) {
		p.Jitter = enabled
	}
}

// WithRetryable sets the retry predicate.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.Retryable = fn
	}
}

// WithOnRetry registers a hook fired before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) {
		p.OnRetry = fn
	}
}

// WithSleeper swaps the sleep function. Tests use it to avoid real waits.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = fn
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, the context is
// done, or attempts run out. A non-retryable error is returned unchanged.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return errors.Join(ctxErr, err)
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := p.doSleep(ctx, delay); sleepErr != nil {
			return errors.Join(sleepErr, err)
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: err}
}

// Delay returns the wait after the given 1-based failed attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter && d > 0 {
		// equal jitter: [d/2, d)
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

func (p *Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
