package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	ordersHandler "github.com/dexrouter/swap-service/internal/handler/orders/http"
	"github.com/dexrouter/swap-service/internal/infrastructure"
	"github.com/dexrouter/swap-service/internal/repository"
	"github.com/dexrouter/swap-service/internal/service/execution"
	"github.com/dexrouter/swap-service/internal/service/scheduler"
	"github.com/dexrouter/swap-service/internal/service/statusstream"
	"github.com/dexrouter/swap-service/internal/service/venue"
	"github.com/dexrouter/swap-service/internal/util"
)

// StartServe runs the full service in one process: order intake and
// status streaming over HTTP, plus the scheduler workers that execute
// the pipelines.
func StartServe(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ordersDB, err := infrastructure.NewPostgresConnection(ctx, "orders", config.Env.Database["orders"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, "orders", ordersDB, config.Env.Database["orders"].PingInterval)

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	util.ContinueOrFatal(err)

	var store entity.OrderStore = repository.NewOrderRepository(ordersDB)

	var redisClient *redis.Client
	if cacheConfig, ok := config.Env.Redis["cache"]; ok && cacheConfig.CacheDSN != "" {
		redisClient, err = infrastructure.NewRedisClient(ctx, cacheConfig)
		util.ContinueOrFatal(err)
		store = repository.NewCachedOrderStore(store, redisClient, cacheConfig.CacheTTL)
	}

	venueConfigs := config.Env.Venues
	if len(venueConfigs) == 0 {
		venueConfigs = venue.DefaultVenueConfigs()
	}
	venues := venue.BuildVenues(venueConfigs, 0)

	statusPublisher := statusstream.NewJetStreamPublisher(js)
	fanout := statusstream.NewFanout(0)
	bridge := statusstream.NewBridge(js, fanout)

	pipeline := execution.NewPipeline(store, venues, statusPublisher, config.Env.Pipeline)

	schedulerConfig := scheduler.NormalizeConfig(config.Env.Scheduler)

	var queue scheduler.JobQueue
	switch schedulerConfig.Queue {
	case "memory":
		queue = scheduler.NewMemoryQueue(0)
	default:
		queue, err = scheduler.NewJetStreamQueue(ctx, js, scheduler.JetStreamQueueConfig{
			AckWait:    schedulerConfig.AckWait,
			MaxDeliver: scheduler.MaxDeliver(schedulerConfig),
		})
		util.ContinueOrFatal(err)
	}

	jobScheduler := scheduler.NewScheduler(queue, pipeline, store, schedulerConfig)

	publishers := make([]entity.Publisher, 0)
	publishers = append(publishers, statusPublisher)
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	subscribers := make([]entity.Subscriber, 0)
	subscribers = append(subscribers, bridge)
	for _, v := range subscribers {
		err = v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	jobScheduler.Start(ctx)

	handler := ordersHandler.NewOrdersHTTPHandler(store, pipeline, jobScheduler, jobScheduler, fanout)
	httpMux := http.NewServeMux()
	handler.Register(httpMux)
	infrastructure.RegisterHealthEndpoints(httpMux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	ops := map[string]operation{
		"scheduler": func(ctx context.Context) error {
			return jobScheduler.Stop(ctx)
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"orders database": func(ctx context.Context) error {
			cancel()
			return ordersDB.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	}
	if redisClient != nil {
		ops["redis"] = func(ctx context.Context) error {
			return redisClient.Close()
		}
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, ops)

	<-wait
}
