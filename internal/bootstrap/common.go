package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

// gracefulShutdown blocks on SIGINT/SIGTERM/SIGHUP, then runs every
// cleanup operation in parallel. If cleanup overruns timeout the
// process force-exits so a stuck component cannot hang shutdown.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	wait := make(chan struct{})

	go func() {
		defer close(wait)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		received := <-sigs

		logrus.WithField("signal", received.String()).Info("shutting down")

		forceExit := time.AfterFunc(timeout, func() {
			logrus.WithField("timeout", timeout.String()).Error("shutdown deadline exceeded, force exit")
			os.Exit(0)
		})
		defer forceExit.Stop()

		var wg sync.WaitGroup
		for name, op := range ops {
			wg.Add(1)
			go func(name string, op operation) {
				defer wg.Done()

				componentLog := logrus.WithField("component", name)
				componentLog.Info("cleaning up")
				if err := op(ctx); err != nil {
					componentLog.WithError(err).Error("clean up failed")
					return
				}

				componentLog.Info("shutdown complete")
			}(name, op)
		}

		wg.Wait()
	}()

	return wait
}
