package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func noSleep(recorded *[]time.Duration) Option {
	return WithSleeper(func(_ context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return nil
	})
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	p := New(WithMaxAttempts(3), WithBackoff(4*time.Second, 10*time.Second, 2), noSleep(&delays))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	p := New(WithMaxAttempts(3), noSleep(&delays))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	var delays []time.Duration
	p := New(
		WithMaxAttempts(5),
		WithRetryable(func(err error) bool { return !errors.Is(err, fatal) }),
		noSleep(&delays),
	)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDelayIsCapped(t *testing.T) {
	p := New(WithBackoff(4*time.Second, 10*time.Second, 2))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 10 * time.Second},
		{6, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayJitterStaysInRange(t *testing.T) {
	p := New(WithBackoff(4*time.Second, 10*time.Second, 2), WithJitter(true))
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 8*time.Second)
	}
}

func TestOnRetryHook(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	p := New(
		WithMaxAttempts(2),
		WithOnRetry(func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) }),
		noSleep(&delays),
	)
	_ = p.Do(context.Background(), func(context.Context) error { return errFlaky })
	assert.Equal(t, []int{1}, attempts)
}
