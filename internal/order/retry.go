package order

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

const (
	MaxAttempts = 3
	RetryDelay  = 2 * time.Second
)

// Sleeper pauses between attempts; tests substitute a recording fake.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// WallSleeper sleeps on the real clock and returns early on cancellation.
var WallSleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// RetryPolicy is a bounded, constant-delay retry schedule.
type RetryPolicy struct {
	Attempts int
	backoff  *backoff.Backoff
}

// DefaultRetryPolicy allows 3 attempts 2 seconds apart, no jitter and no growth.
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(MaxAttempts, RetryDelay)
}

func NewRetryPolicy(attempts int, delay time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	return RetryPolicy{
		Attempts: attempts,
		backoff: &backoff.Backoff{
			Min:    delay,
			Max:    delay,
			Factor: 1,
			Jitter: false,
		},
	}
}

// Delay is the wait after the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.backoff.ForAttempt(float64(attempt))
}
