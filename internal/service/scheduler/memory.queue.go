package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dexrouter/swap-service/internal/entity"
)

const defaultMemoryQueueBuffer = 256

// MemoryQueue is an in-process JobQueue with the same contract as the
// JetStream queue: duplicate rejection covering queued and in-flight
// jobs, attempt counting, and delayed redelivery on Retry. It is not
// durable; it backs the simulate command and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool

	pending chan *memoryDelivery
	done    chan struct{}
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryQueueBuffer
	}

	return &MemoryQueue{
		inFlight: make(map[string]struct{}),
		pending:  make(chan *memoryDelivery, buffer),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job entity.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, ok := q.inFlight[job.OrderID]; ok {
		q.mu.Unlock()
		return ErrDuplicateJob
	}
	q.inFlight[job.OrderID] = struct{}{}
	q.mu.Unlock()

	delivery := &memoryDelivery{queue: q, job: job, attempt: 1}
	select {
	case q.pending <- delivery:
		return nil
	case <-ctx.Done():
		q.forget(job.OrderID)
		return ctx.Err()
	case <-q.done:
		q.forget(job.OrderID)
		return ErrQueueClosed
	}
}

func (q *MemoryQueue) Fetch(ctx context.Context) (Delivery, error) {
	select {
	case delivery := <-q.pending:
		return delivery, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueClosed
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}

	return nil
}

func (q *MemoryQueue) forget(orderID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, orderID)
}

// redeliver puts a retried job back on the queue after its backoff
// delay, keeping the order id marked in-flight the whole time.
func (q *MemoryQueue) redeliver(job entity.Job, attempt int, delay time.Duration) {
	time.AfterFunc(delay, func() {
		delivery := &memoryDelivery{queue: q, job: job, attempt: attempt}
		select {
		case q.pending <- delivery:
		case <-q.done:
		}
	})
}

type memoryDelivery struct {
	queue   *MemoryQueue
	job     entity.Job
	attempt int
}

func (d *memoryDelivery) Job() entity.Job {
	return d.job
}

func (d *memoryDelivery) Attempt() int {
	return d.attempt
}

func (d *memoryDelivery) Ack() error {
	d.queue.forget(d.job.OrderID)
	return nil
}

func (d *memoryDelivery) Retry(delay time.Duration) error {
	d.queue.redeliver(d.job, d.attempt+1, delay)
	return nil
}

func (d *memoryDelivery) Term() error {
	d.queue.forget(d.job.OrderID)
	return nil
}
