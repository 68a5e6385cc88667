package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/namarks/chatmix/internal/apperr"
)

// Do runs fn with bounded retries for transient catalog failures. Backoff is
// exponential from baseDelay; a rate-limit response's suggested duration is
// honored as a floor for that attempt's wait. Non-retryable errors and
// context cancellation propagate immediately; exhausting the attempt budget
// returns the last error.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)

			var rl *apperr.RateLimitedError
			if errors.As(err, &rl) && rl.RetryAfter > delay {
				delay = rl.RetryAfter
			}

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) {
			return err
		}
	}
	return err
}
