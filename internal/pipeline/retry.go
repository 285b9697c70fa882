package pipeline

import (
	"context"
	"time"

	"github.com/deptkb/deptkb/internal/faults"
)

// retryWithBackoff retries op with exponential backoff: base, 2*base,
// 4*base, ... capped at maxDelay. Only transient errors are retried;
// permanent, client-input, and consistency errors return immediately.
// Returns the number of attempts made and the last error.
func retryWithBackoff(ctx context.Context, op func() error, maxAttempts int, base, maxDelay time.Duration) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		default:
		}

		lastErr = op()
		if lastErr == nil {
			return attempt, nil
		}
		if !faults.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxDelay {
				delay = maxDelay
				break
			}
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return maxAttempts, lastErr
}
