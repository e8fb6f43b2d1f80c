package pipeline

import (
	"context"
	"time"

	"github.com/teranos/bfhtw/errors"
)

// RetryWithBackoff runs op up to attempts times, sleeping base, 2*base,
// 4*base, ... between attempts. It returns nil on the first success, the
// context error if ctx ends first, and otherwise the last error from op.
func RetryWithBackoff(ctx context.Context, op func(ctx context.Context) error, attempts int, base time.Duration) error {
	if attempts <= 0 {
		return errors.NewInvalidRequestError("attempts must be positive, got %d", attempts)
	}

	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
