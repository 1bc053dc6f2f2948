package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dexrouter/swap-service/internal/entity"
)

var (
	ErrDuplicateJob = errors.New("job already enqueued")
	ErrQueueClosed  = errors.New("job queue closed")
)

// Delivery is one claimed job. Exactly one of Ack, Retry, or Term must
// be called; until then the job counts as in-flight and is redelivered
// if the process dies.
type Delivery interface {
	Job() entity.Job
	// Attempt is 1 on first delivery and increments on each
	// redelivery, surviving process restarts on durable queues.
	Attempt() int
	Ack() error
	Retry(delay time.Duration) error
	Term() error
}

// JobQueue is the durable work queue feeding the scheduler's worker
// pool. Implementations must deliver a claimed job to at most one
// fetcher at a time and must reject an enqueue for an order id that is
// already queued or in-flight with ErrDuplicateJob.
type JobQueue interface {
	Enqueue(ctx context.Context, job entity.Job) error
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}
