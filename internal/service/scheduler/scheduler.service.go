package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/util"
)

const (
	defaultConcurrency        = 10
	defaultIntakeRatePerMin   = 100
	defaultIntakeBurst        = 10
	defaultMaxRetries         = 3
	defaultRetryBaseDelay     = time.Second
	defaultRetryMaxDelay      = 30 * time.Second
	defaultJobTimeout         = 45 * time.Second
	defaultCompletedRetention = 15 * time.Minute
	defaultMaxCompleted       = 1000
	defaultFailedRetention    = 24 * time.Hour

	// maxDeliverHeadroom reserves broker redeliveries for the
	// fail-closed path where recording a terminal failure itself
	// fails and the job must come back.
	maxDeliverHeadroom = 3

	janitorInterval    = time.Minute
	bookkeepingTimeout = 10 * time.Second
)

// JobRunner executes one order end to end. Run drives the order to a
// terminal status or returns the error that stopped it; Fail records
// the terminal failure once the retry budget is spent.
type JobRunner interface {
	Run(ctx context.Context, orderID string) error
	Fail(ctx context.Context, orderID string, cause error) error
}

// Scheduler pulls jobs off the queue with a fixed-size worker pool.
// The pool caps how many orders execute at once; a token bucket
// additionally caps how fast jobs may start regardless of free slots.
type Scheduler struct {
	queue    JobQueue
	runner   JobRunner
	store    entity.OrderStore
	registry *jobRegistry
	limiter  *rate.Limiter
	cfg      config.SchedulerConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NormalizeConfig fills zero values with defaults. AckWait always
// clears JobTimeout so the broker cannot redeliver a job that is
// still running.
func NormalizeConfig(cfg config.SchedulerConfig) config.SchedulerConfig {
	if cfg.Queue == "" {
		cfg.Queue = "jetstream"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.IntakeRatePerMinute <= 0 {
		cfg.IntakeRatePerMinute = defaultIntakeRatePerMin
	}
	if cfg.IntakeBurst <= 0 {
		cfg.IntakeBurst = defaultIntakeBurst
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.AckWait <= cfg.JobTimeout {
		cfg.AckWait = cfg.JobTimeout + 15*time.Second
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = defaultCompletedRetention
	}
	if cfg.MaxCompleted <= 0 {
		cfg.MaxCompleted = defaultMaxCompleted
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = defaultFailedRetention
	}
	return cfg
}

// MaxDeliver is the broker-side delivery cap for the durable
// consumer: one delivery per allowed attempt plus fail-closed
// headroom.
func MaxDeliver(cfg config.SchedulerConfig) int {
	return cfg.MaxRetries + 1 + maxDeliverHeadroom
}

func NewScheduler(queue JobQueue, runner JobRunner, store entity.OrderStore, cfg config.SchedulerConfig) *Scheduler {
	cfg = NormalizeConfig(cfg)

	return &Scheduler{
		queue:    queue,
		runner:   runner,
		store:    store,
		registry: newJobRegistry(),
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.IntakeRatePerMinute)/60.0), cfg.IntakeBurst),
		cfg:      cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.janitor(ctx)

	logrus.WithFields(logrus.Fields{
		"concurrency":      s.cfg.Concurrency,
		"intakeRatePerMin": s.cfg.IntakeRatePerMinute,
		"maxRetries":       s.cfg.MaxRetries,
	}).Info("scheduler started")
}

// Enqueue admits one execution job for the order. An order that is
// still waiting, running, or awaiting redelivery is rejected with
// ErrDuplicateJob; the durable queue applies the same rule across
// processes via message id deduplication.
func (s *Scheduler) Enqueue(ctx context.Context, orderID string) error {
	if !s.registry.admit(orderID) {
		return ErrDuplicateJob
	}

	job := entity.Job{OrderID: orderID, EnqueuedAt: time.Now().UTC()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.registry.forget(orderID)
		return err
	}

	return nil
}

func (s *Scheduler) GetMetrics() Metrics {
	return s.registry.metrics()
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		delivery, err := s.queue.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) {
				return
			}
			logrus.WithField("worker", id).Errorf("fetch job: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		s.dispatch(ctx, delivery)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, delivery Delivery) {
	orderID := delivery.Job().OrderID
	attempt := delivery.Attempt()

	if err := s.limiter.Wait(ctx); err != nil {
		// Shutting down mid-dispatch: hand the job back untouched.
		if retryErr := delivery.Retry(s.cfg.RetryBaseDelay); retryErr != nil {
			logrus.Error(retryErr)
		}
		return
	}

	if !s.registry.markActive(orderID, attempt) {
		logrus.WithFields(logrus.Fields{
			"orderID": orderID,
			"attempt": attempt,
		}).Warn("order already executing, deferring redelivery")
		if err := delivery.Retry(s.cfg.AckWait); err != nil {
			logrus.Error(err)
		}
		return
	}

	err := util.ProcessWithTimeout(s.cfg.JobTimeout, "order "+orderID, func(jobCtx context.Context) error {
		return s.runner.Run(jobCtx, orderID)
	})
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			logrus.WithField("orderID", orderID).Error(ackErr)
		}
		s.registry.markCompleted(orderID)
		return
	}

	if entity.IsPermanent(err) || attempt >= s.cfg.MaxRetries+1 {
		s.failJob(delivery, orderID, attempt, err)
		return
	}

	bookCtx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if _, incErr := s.store.IncrementRetryCount(bookCtx, orderID); incErr != nil {
		logrus.WithField("orderID", orderID).Errorf("increment retry count: %v", incErr)
	}

	delay := util.Backoff(attempt, s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay)
	if retryErr := delivery.Retry(delay); retryErr != nil {
		logrus.WithField("orderID", orderID).Error(retryErr)
	}
	s.registry.markRetrying(orderID)

	logrus.WithFields(logrus.Fields{
		"orderID": orderID,
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warnf("order attempt failed, scheduling retry: %v", err)
}

func (s *Scheduler) failJob(delivery Delivery, orderID string, attempt int, cause error) {
	bookCtx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	if err := s.runner.Fail(bookCtx, orderID, cause); err != nil {
		// Terminal status is not on record yet, keep the job alive.
		logrus.WithFields(logrus.Fields{
			"orderID": orderID,
			"attempt": attempt,
		}).Errorf("record terminal failure: %v", err)
		if retryErr := delivery.Retry(util.Backoff(attempt, s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay)); retryErr != nil {
			logrus.Error(retryErr)
		}
		s.registry.markRetrying(orderID)
		return
	}

	if err := delivery.Term(); err != nil {
		logrus.WithField("orderID", orderID).Error(err)
	}
	s.registry.markFailed(orderID)

	logrus.WithFields(logrus.Fields{
		"orderID": orderID,
		"attempt": attempt,
	}).Errorf("order failed terminally: %v", cause)
}

func (s *Scheduler) janitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.registry.purge(now, s.cfg.CompletedRetention, s.cfg.MaxCompleted, s.cfg.FailedRetention); removed > 0 {
				logrus.WithField("removed", removed).Debug("purged finished jobs")
			}
		}
	}
}
