package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/repository"
)

type stubRunner struct {
	mu        sync.Mutex
	runs      map[string]int
	failCalls map[string]int
	lastCause error

	// runFn decides the outcome of the n-th run of an order (1-based)
	runFn  func(orderID string, n int) error
	failFn func(orderID string, n int) error
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		runs:      make(map[string]int),
		failCalls: make(map[string]int),
	}
}

func (r *stubRunner) Run(_ context.Context, orderID string) error {
	r.mu.Lock()
	r.runs[orderID]++
	n := r.runs[orderID]
	fn := r.runFn
	r.mu.Unlock()

	if fn != nil {
		return fn(orderID, n)
	}
	return nil
}

func (r *stubRunner) Fail(_ context.Context, orderID string, cause error) error {
	r.mu.Lock()
	r.failCalls[orderID]++
	n := r.failCalls[orderID]
	r.lastCause = cause
	fn := r.failFn
	r.mu.Unlock()

	if fn != nil {
		return fn(orderID, n)
	}
	return nil
}

func (r *stubRunner) runCount(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[orderID]
}

func (r *stubRunner) failCount(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failCalls[orderID]
}

type stubDelivery struct {
	mu         sync.Mutex
	job        entity.Job
	attempt    int
	acked      bool
	termed     bool
	retried    bool
	retryDelay time.Duration
}

func (d *stubDelivery) Job() entity.Job { return d.job }
func (d *stubDelivery) Attempt() int    { return d.attempt }

func (d *stubDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *stubDelivery) Retry(delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retried = true
	d.retryDelay = delay
	return nil
}

func (d *stubDelivery) Term() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.termed = true
	return nil
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Queue:               "memory",
		Concurrency:         4,
		IntakeRatePerMinute: 60_000,
		IntakeBurst:         100,
		MaxRetries:          3,
		RetryBaseDelay:      5 * time.Millisecond,
		RetryMaxDelay:       50 * time.Millisecond,
		JobTimeout:          time.Second,
	}
}

func startScheduler(t *testing.T, runner JobRunner, store entity.OrderStore, cfg config.SchedulerConfig) *Scheduler {
	t.Helper()

	s := NewScheduler(NewMemoryQueue(32), runner, store, cfg)
	s.Start(context.Background())
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(stopCtx))
	})
	return s
}

func storeWithOrder(t *testing.T, orderID string) *repository.MemoryOrderStore {
	t.Helper()

	store := repository.NewMemoryOrderStore()
	require.NoError(t, store.Create(context.Background(), &entity.Order{
		ID:     orderID,
		Type:   entity.OrderTypeMarket,
		Status: entity.OrderStatusPending,
	}))
	return store
}

func TestSchedulerRunsJobToCompletion(t *testing.T) {
	runner := newStubRunner()
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))

	require.Eventually(t, func() bool {
		return s.GetMetrics().Completed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, runner.runCount("ord-1"))

	// a finished order may be enqueued again
	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))
}

func TestSchedulerRejectsDuplicateEnqueue(t *testing.T) {
	runner := newStubRunner()
	store := storeWithOrder(t, "ord-1")
	s := NewScheduler(NewMemoryQueue(32), runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))
	require.ErrorIs(t, s.Enqueue(context.Background(), "ord-1"), ErrDuplicateJob)

	m := s.GetMetrics()
	assert.Equal(t, 1, m.Waiting)
}

func TestSchedulerEnqueueRollsBackOnQueueError(t *testing.T) {
	runner := newStubRunner()
	store := storeWithOrder(t, "ord-1")
	queue := NewMemoryQueue(32)
	require.NoError(t, queue.Close())
	s := NewScheduler(queue, runner, store, testSchedulerConfig())

	require.ErrorIs(t, s.Enqueue(context.Background(), "ord-1"), ErrQueueClosed)
	// the failed admission must not leave the id reserved
	require.ErrorIs(t, s.Enqueue(context.Background(), "ord-1"), ErrQueueClosed)
	assert.Equal(t, 0, s.GetMetrics().Waiting)
}

func TestSchedulerRetriesTransientFailure(t *testing.T) {
	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		if n < 3 {
			return errors.New("venue unavailable")
		}
		return nil
	}
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))

	require.Eventually(t, func() bool {
		return s.GetMetrics().Completed == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, runner.runCount("ord-1"))
	assert.Equal(t, 0, runner.failCount("ord-1"))

	order, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, order.RetryCount, "each failed attempt must be persisted")
}

func TestSchedulerPermanentFailureSkipsRetries(t *testing.T) {
	cause := errors.New("unsupported pair")
	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		return entity.MarkPermanent(cause)
	}
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))

	require.Eventually(t, func() bool {
		return s.GetMetrics().Failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, runner.runCount("ord-1"))
	assert.Equal(t, 1, runner.failCount("ord-1"))
	require.ErrorIs(t, runner.lastCause, cause)

	order, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 0, order.RetryCount)
}

func TestSchedulerExhaustsRetryBudget(t *testing.T) {
	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		return errors.New("venue unavailable")
	}
	cfg := testSchedulerConfig()
	cfg.MaxRetries = 1
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, cfg)

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))

	require.Eventually(t, func() bool {
		return s.GetMetrics().Failed == 1
	}, 3*time.Second, 10*time.Millisecond)
	// one fresh attempt plus one retry, then the terminal failure
	assert.Equal(t, 2, runner.runCount("ord-1"))
	assert.Equal(t, 1, runner.failCount("ord-1"))

	order, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.RetryCount)
}

func TestSchedulerKeepsJobAliveWhenTerminalRecordFails(t *testing.T) {
	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		return entity.MarkPermanent(errors.New("unsupported pair"))
	}
	runner.failFn = func(orderID string, n int) error {
		if n == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))

	require.Eventually(t, func() bool {
		return s.GetMetrics().Failed == 1
	}, 3*time.Second, 10*time.Millisecond)
	// the job came back after the failed terminal write and ran again
	assert.Equal(t, 2, runner.runCount("ord-1"))
	assert.Equal(t, 2, runner.failCount("ord-1"))
}

func TestSchedulerDefersEarlyRedelivery(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		started <- struct{}{}
		<-gate
		return nil
	}
	store := storeWithOrder(t, "ord-1")
	s := startScheduler(t, runner, store, testSchedulerConfig())

	require.NoError(t, s.Enqueue(context.Background(), "ord-1"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	// a broker redelivery arriving while the order is mid-run must be
	// pushed out, not run concurrently
	early := &stubDelivery{job: entity.Job{OrderID: "ord-1"}, attempt: 2}
	s.dispatch(context.Background(), early)

	early.mu.Lock()
	assert.True(t, early.retried)
	assert.Equal(t, s.cfg.AckWait, early.retryDelay)
	assert.False(t, early.acked)
	assert.False(t, early.termed)
	early.mu.Unlock()
	assert.Equal(t, 1, runner.runCount("ord-1"))

	close(gate)
	require.Eventually(t, func() bool {
		return s.GetMetrics().Completed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerIntakeRateGatesJobStarts(t *testing.T) {
	var mu sync.Mutex
	starts := make([]time.Time, 0, 3)

	runner := newStubRunner()
	runner.runFn = func(orderID string, n int) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	}

	cfg := testSchedulerConfig()
	cfg.IntakeRatePerMinute = 600 // one start every 100ms
	cfg.IntakeBurst = 1

	store := repository.NewMemoryOrderStore()
	s := startScheduler(t, runner, store, cfg)

	ctx := context.Background()
	for _, id := range []string{"ord-a", "ord-b", "ord-c"} {
		require.NoError(t, store.Create(ctx, &entity.Order{ID: id, Type: entity.OrderTypeMarket}))
		require.NoError(t, s.Enqueue(ctx, id))
	}

	require.Eventually(t, func() bool {
		return s.GetMetrics().Completed == 3
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	spread := starts[2].Sub(starts[0])
	// even with free workers the third start waits for two refill ticks
	assert.GreaterOrEqual(t, spread, 150*time.Millisecond, "job starts were not rate limited, spread %s", spread)
}

func TestNormalizeConfigDefaults(t *testing.T) {
	cfg := NormalizeConfig(config.SchedulerConfig{})

	assert.Equal(t, "jetstream", cfg.Queue)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 100, cfg.IntakeRatePerMinute)
	assert.Equal(t, 10, cfg.IntakeBurst)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 45*time.Second, cfg.JobTimeout)
	assert.Equal(t, 60*time.Second, cfg.AckWait)
	assert.Equal(t, 15*time.Minute, cfg.CompletedRetention)
	assert.Equal(t, 1000, cfg.MaxCompleted)
	assert.Equal(t, 24*time.Hour, cfg.FailedRetention)
}

func TestNormalizeConfigKeepsAckWaitAboveJobTimeout(t *testing.T) {
	cfg := NormalizeConfig(config.SchedulerConfig{
		JobTimeout: 30 * time.Second,
		AckWait:    10 * time.Second,
	})
	assert.Equal(t, 45*time.Second, cfg.AckWait)
}

func TestMaxDeliverCoversBudgetAndHeadroom(t *testing.T) {
	cfg := NormalizeConfig(config.SchedulerConfig{MaxRetries: 3})
	assert.Equal(t, 7, MaxDeliver(cfg))
}
