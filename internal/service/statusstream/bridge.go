package statusstream

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/dexrouter/swap-service/internal/constant"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/util"
)

const statusStreamMaxAge = 10 * time.Minute

// JetStreamPublisher mirrors status events onto the status stream so
// gateways in other processes can serve live subscribers. The durable
// audit trail lives in the order store; this stream only carries the
// live feed, so publish failures are logged, never fatal.
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

func NewJetStreamPublisher(js nats.JetStreamContext) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

func (p *JetStreamPublisher) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.StatusStreamName,
		Subjects:  []string{constant.StatusStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    statusStreamMaxAge,
		Replicas:  1,
	}

	stream, err := p.js.StreamInfo(constant.StatusStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.StatusStreamName)
		_, err = p.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.StatusStreamName)
	_, err = p.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (p *JetStreamPublisher) Publish(event entity.StatusEvent) {
	err := util.PublishEvent(p.js, constant.StatusStreamSubject(event.OrderID), event)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"orderID": event.OrderID,
			"status":  event.Status,
		}).Errorf("publish status event: %v", err)
	}
}

// Bridge feeds status events from the status stream into an
// in-process fanout.
type Bridge struct {
	js     nats.JetStreamContext
	fanout *Fanout
}

func NewBridge(js nats.JetStreamContext, fanout *Fanout) *Bridge {
	return &Bridge{js: js, fanout: fanout}
}

func (b *Bridge) JetstreamEventSubscribe(ctx context.Context) error {
	publisher := &JetStreamPublisher{js: b.js}
	if err := publisher.JetstreamEventInit(ctx); err != nil {
		logrus.Error(err)
		return err
	}

	_, err := b.js.Subscribe(
		constant.StatusStreamSubjectAll,
		func(msg *nats.Msg) {
			var event entity.StatusEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logrus.Errorf("malformed status event: %v", err)
				return
			}
			b.fanout.Publish(event)
		},
		nats.DeliverNew(), // live feed only, history is replayed from the store
	)
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}
