package llm

import (
	"context"
	"time"
)

// RetryConfig holds retry configuration for model requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, the first included.
	MaxAttempts int

	// BackoffBase is the wait after the first failed attempt.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps any single wait, Retry-After included.
	MaxBackoff time.Duration

	// AttemptTimeout bounds one backend call. Zero means no bound beyond
	// the caller's context.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns three attempts with 1s, 2s waits capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        8 * time.Second,
		AttemptTimeout:    60 * time.Second,
	}
}

// Backoff returns min(base*mult^(attempt-1), cap). There is no jitter, so
// the schedule is reproducible.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}
	backoff := time.Duration(float64(c.BackoffBase) * multiplier)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
