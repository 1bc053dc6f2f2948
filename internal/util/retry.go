package util

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dexrouter/swap-service/internal/entity"
)

const minRetryBaseDelay = time.Millisecond

// WithRetry runs op immediately, then up to maxRetries more times on
// failure, sleeping baseDelay, 2*baseDelay, 4*baseDelay, ... between
// attempts. Errors marked permanent short-circuit the loop. On
// exhaustion the last observed error is returned unchanged.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay < minRetryBaseDelay {
		baseDelay = minRetryBaseDelay
	}

	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if entity.IsPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Backoff returns the delay before retry number attempt (1-indexed):
// base, 2*base, 4*base, ... capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}

	shift := uint(attempt - 1)
	if shift > 20 {
		shift = 20
	}
	delay := base << shift
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
