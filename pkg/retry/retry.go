package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config controls retry behaviour.
type Config struct {
	// Enabled turns retrying on. A disabled config makes exactly one attempt.
	Enabled bool
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// BackoffMultiplier grows the delay per attempt.
	// Wait = InitialDelay * BackoffMultiplier^(attempt-1), capped at MaxDelay.
	BackoffMultiplier float64
	// MaxDelay caps the wait. Zero means uncapped.
	MaxDelay time.Duration
	// ShouldRetry overrides the caller's default recoverability check.
	ShouldRetry func(err error) bool
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Attempts returns the effective attempt budget.
func (c Config) Attempts() int {
	if !c.Enabled || c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// Delay returns the wait before the attempt that follows failed attempt
// number attempt.
//
// Schedule with InitialDelay=500ms, BackoffMultiplier=2, MaxDelay=16s:
//
//	attempt 1 fails → wait 500ms
//	attempt 2 fails → wait 1s
//	attempt 3 fails → wait 2s
//	...
//	attempt 6 fails → wait 16s (and 16s from then on)
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := c.BackoffMultiplier
	if m <= 0 {
		m = 1
	}
	d := float64(c.InitialDelay) * math.Pow(m, float64(attempt-1))
	if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Decide reports whether failed attempt number attempt should be followed by
// another one, and after what delay. fallback is consulted when ShouldRetry
// is nil; a nil fallback retries every error.
func (c Config) Decide(attempt int, err error, fallback func(error) bool) (bool, time.Duration) {
	if attempt >= c.Attempts() {
		return false, 0
	}

	retryable := true
	switch {
	case c.ShouldRetry != nil:
		retryable = c.ShouldRetry(err)
	case fallback != nil:
		retryable = fallback(err)
	}
	if !retryable {
		return false, 0
	}
	return true, c.Delay(attempt)
}

// Wait blocks for d or until ctx is done. It never waits on a context that is
// already cancelled.
func Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
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

// Do calls fn until it succeeds, the attempt budget is spent, or ShouldRetry
// refuses an error. It returns the number of attempts made.
//
// Returns nil on first success, or the last error after all attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		retry, delay := cfg.Decide(attempt, lastErr, nil)
		if !retry {
			return attempt, lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		if err := Wait(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled after attempt %d: %w", attempt, err)
		}
	}
}
