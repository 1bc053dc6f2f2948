package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/repository"
	"github.com/dexrouter/swap-service/internal/service/execution"
	"github.com/dexrouter/swap-service/internal/service/scheduler"
	"github.com/dexrouter/swap-service/internal/service/statusstream"
	"github.com/dexrouter/swap-service/internal/service/venue"
	"github.com/dexrouter/swap-service/internal/util"
)

const simulationOrderTimeout = 2 * time.Minute

type simulationOutcome struct {
	mu        sync.Mutex
	confirmed int
	failed    int
	timedOut  int
	byVenue   map[string]int
	durations []time.Duration
}

func (o *simulationOutcome) record(status entity.OrderStatus, venueName string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch status {
	case entity.OrderStatusConfirmed:
		o.confirmed++
		if venueName != "" {
			o.byVenue[venueName]++
		}
	case entity.OrderStatusFailed:
		o.failed++
	default:
		o.timedOut++
	}
	o.durations = append(o.durations, elapsed)
}

func (o *simulationOutcome) percentiles() (p50, p95, max time.Duration) {
	if len(o.durations) == 0 {
		return 0, 0, 0
	}

	sort.Slice(o.durations, func(i, j int) bool {
		return o.durations[i] < o.durations[j]
	})

	p50 = o.durations[len(o.durations)/2]
	p95 = o.durations[(len(o.durations)*95)/100]
	max = o.durations[len(o.durations)-1]
	return p50, p95, max
}

// StartSimulate runs the whole pipeline in memory: no Postgres, no
// NATS, just the in-process store, queue, and fanout with seeded
// venues. Useful for demoing routing behavior and as a load smoke
// test.
func StartSimulate(cmd *cobra.Command, args []string) {
	orderCount, _ := cmd.Flags().GetInt("orders")
	seed, _ := cmd.Flags().GetInt64("seed")
	if orderCount <= 0 {
		orderCount = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := repository.NewMemoryOrderStore()
	fanout := statusstream.NewFanout(0)
	venues := venue.BuildVenues(venue.DefaultVenueConfigs(), seed)

	pipeline := execution.NewPipeline(store, venues, fanout, config.Env.Pipeline)

	schedulerConfig := scheduler.NormalizeConfig(config.Env.Scheduler)
	schedulerConfig.Queue = "memory"

	queue := scheduler.NewMemoryQueue(orderCount * 2)
	jobScheduler := scheduler.NewScheduler(queue, pipeline, store, schedulerConfig)
	jobScheduler.Start(ctx)

	logrus.WithFields(logrus.Fields{
		"orders": orderCount,
		"seed":   seed,
		"venues": len(venues),
	}).Info("simulation started")

	outcome := &simulationOutcome{byVenue: make(map[string]int)}
	startedAt := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < orderCount; i++ {
		amountIn := decimal.NewFromFloat(0.5).Add(decimal.NewFromInt(int64(i % 7)).Mul(decimal.NewFromFloat(0.37)))
		order := &entity.Order{
			ID:                uuid.NewString(),
			Type:              entity.OrderTypeMarket,
			InputAsset:        "SOL",
			OutputAsset:       "USDC",
			AmountIn:          amountIn,
			SlippageTolerance: pipeline.DefaultSlippage(),
		}

		sub := fanout.Subscribe(order.ID)
		wg.Add(1)
		go watchSimulationOrder(sub, outcome, &wg)

		err := pipeline.Admit(ctx, order)
		util.ContinueOrFatal(err)

		err = jobScheduler.Enqueue(ctx, order.ID)
		util.ContinueOrFatal(err)
	}

	wg.Wait()

	p50, p95, max := outcome.percentiles()
	logrus.WithFields(logrus.Fields{
		"confirmed": outcome.confirmed,
		"failed":    outcome.failed,
		"timedOut":  outcome.timedOut,
		"byVenue":   fmt.Sprintf("%v", outcome.byVenue),
		"p50":       p50.Round(time.Millisecond).String(),
		"p95":       p95.Round(time.Millisecond).String(),
		"max":       max.Round(time.Millisecond).String(),
		"elapsed":   time.Since(startedAt).Round(time.Millisecond).String(),
	}).Info("simulation finished")

	stopTimeout := config.Env.GracefulShutdownTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := jobScheduler.Stop(stopCtx); err != nil {
		logrus.Error(err)
	}
}

func watchSimulationOrder(sub *statusstream.Subscription, outcome *simulationOutcome, wg *sync.WaitGroup) {
	defer wg.Done()

	startedAt := time.Now()
	timeout := time.NewTimer(simulationOrderTimeout)
	defer timeout.Stop()

	for {
		select {
		case event := <-sub.Events():
			fields := logrus.Fields{
				"orderID": event.OrderID,
				"status":  event.Status,
				"seq":     event.Sequence,
			}
			if event.Payload.Routing != nil {
				fields["venue"] = event.Payload.Routing.SelectedVenue
			}
			if event.Payload.Error != "" {
				fields["error"] = event.Payload.Error
			}
			logrus.WithFields(fields).Info("status event")

			if event.Status.Terminal() {
				venueName := ""
				if event.Payload.Execution != nil {
					venueName = event.Payload.Execution.Venue
				}
				outcome.record(event.Status, venueName, time.Since(startedAt))
				return
			}
		case <-sub.Done():
			outcome.record(entity.OrderStatusPending, "", time.Since(startedAt))
			return
		case <-timeout.C:
			logrus.WithField("orderID", sub.OrderID()).Warn("order did not finish in time")
			outcome.record(entity.OrderStatusPending, "", time.Since(startedAt))
			return
		}
	}
}
