package backoff

import (
	"context"
	"time"
)

// Retry calls fn until it succeeds, maxAttempts is reached or retryable
// reports false for the returned error. A nil retryable retries everything.
// It returns the last error from fn, or ctx.Err() if the context ends while
// waiting.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || (retryable != nil && !retryable(lastErr)) {
			break
		}
		if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
