package util

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/nats-io/nats.go"
)

// ProcessWithTimeout runs callback under a context detached from the
// caller, so in-flight work survives caller shutdown but never runs
// unbounded.
func ProcessWithTimeout(timeout time.Duration, label string, callback func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callback(ctx)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("processing timeout for %s", label)
	case err := <-done:
		return err
	}
}

func PublishEvent(js nats.JetStreamContext, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}

	_, err = js.Publish(subject, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}
