package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/entity"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	start := time.Now()
	err := WithRetry(context.Background(), 3, 10*time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("venue unavailable")
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// two sleeps of 10ms and 20ms before the winning attempt
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cause := errors.New("venue unavailable")
	calls := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		return cause
	})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestWithRetryPermanentShortCircuits(t *testing.T) {
	cause := errors.New("unsupported pair")
	calls := 0
	err := WithRetry(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		return entity.MarkPermanent(cause)
	})

	require.ErrorIs(t, err, cause)
	assert.True(t, entity.IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetryNegativeMaxRetriesMeansSingleAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), -1, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	calls := 0
	err := WithRetry(ctx, 10, 50*time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("venue unavailable")
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1, time.Second, 30*time.Second))
	assert.Equal(t, 2*time.Second, Backoff(2, time.Second, 30*time.Second))
	assert.Equal(t, 4*time.Second, Backoff(3, time.Second, 30*time.Second))
	assert.Equal(t, 16*time.Second, Backoff(5, time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, Backoff(6, time.Second, 30*time.Second))
}

func TestBackoffDefaults(t *testing.T) {
	// attempt below 1 is treated as the first attempt
	assert.Equal(t, time.Second, Backoff(0, time.Second, 0))
	// non-positive base falls back to one second
	assert.Equal(t, 4*time.Second, Backoff(3, 0, 0))
}
