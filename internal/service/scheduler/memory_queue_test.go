package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/entity"
)

func fetchWithin(t *testing.T, q *MemoryQueue, timeout time.Duration) Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	delivery, err := q.Fetch(ctx)
	require.NoError(t, err)
	return delivery
}

func TestMemoryQueueEnqueueFetchAck(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}))

	delivery := fetchWithin(t, q, time.Second)
	assert.Equal(t, "ord-1", delivery.Job().OrderID)
	assert.Equal(t, 1, delivery.Attempt())

	require.NoError(t, delivery.Ack())

	// acked jobs free the id for a fresh enqueue
	require.NoError(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}))
}

func TestMemoryQueueRejectsDuplicates(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}))
	require.ErrorIs(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}), ErrDuplicateJob)

	// claiming the job does not free the id, only Ack or Term do
	delivery := fetchWithin(t, q, time.Second)
	require.ErrorIs(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}), ErrDuplicateJob)

	require.NoError(t, delivery.Term())
	require.NoError(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}))
}

func TestMemoryQueueRetryRedelivers(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}))

	first := fetchWithin(t, q, time.Second)
	require.Equal(t, 1, first.Attempt())
	require.NoError(t, first.Retry(10*time.Millisecond))

	// the id stays reserved while the redelivery timer runs
	require.ErrorIs(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}), ErrDuplicateJob)

	second := fetchWithin(t, q, time.Second)
	assert.Equal(t, "ord-1", second.Job().OrderID)
	assert.Equal(t, 2, second.Attempt())
	require.NoError(t, second.Ack())
}

func TestMemoryQueueFetchHonorsContext(t *testing.T) {
	q := NewMemoryQueue(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Fetch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	require.ErrorIs(t, q.Enqueue(ctx, entity.Job{OrderID: "ord-1"}), ErrQueueClosed)

	_, err := q.Fetch(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
}
