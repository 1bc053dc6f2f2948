package bootstrap

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/infrastructure"
	"github.com/dexrouter/swap-service/internal/repository"
	"github.com/dexrouter/swap-service/internal/service/execution"
	"github.com/dexrouter/swap-service/internal/service/scheduler"
	"github.com/dexrouter/swap-service/internal/service/statusstream"
	"github.com/dexrouter/swap-service/internal/service/venue"
	"github.com/dexrouter/swap-service/internal/util"
)

// StartWorker runs scheduler workers without the HTTP surface. Orders
// arrive through the durable queue from gateway processes; status
// events go back out on the status stream.
func StartWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ordersDB, err := infrastructure.NewPostgresConnection(ctx, "orders", config.Env.Database["orders"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, "orders", ordersDB, config.Env.Database["orders"].PingInterval)

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	util.ContinueOrFatal(err)

	var store entity.OrderStore = repository.NewOrderRepository(ordersDB)

	venueConfigs := config.Env.Venues
	if len(venueConfigs) == 0 {
		venueConfigs = venue.DefaultVenueConfigs()
	}
	venues := venue.BuildVenues(venueConfigs, 0)

	statusPublisher := statusstream.NewJetStreamPublisher(js)

	pipeline := execution.NewPipeline(store, venues, statusPublisher, config.Env.Pipeline)

	schedulerConfig := scheduler.NormalizeConfig(config.Env.Scheduler)
	queue, err := scheduler.NewJetStreamQueue(ctx, js, scheduler.JetStreamQueueConfig{
		AckWait:    schedulerConfig.AckWait,
		MaxDeliver: scheduler.MaxDeliver(schedulerConfig),
	})
	util.ContinueOrFatal(err)

	jobScheduler := scheduler.NewScheduler(queue, pipeline, store, schedulerConfig)

	publishers := make([]entity.Publisher, 0)
	publishers = append(publishers, statusPublisher)
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	jobScheduler.Start(ctx)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"scheduler": func(ctx context.Context) error {
			return jobScheduler.Stop(ctx)
		},
		"orders database": func(ctx context.Context) error {
			cancel()
			return ordersDB.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}
