package scheduler

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/dexrouter/swap-service/internal/constant"
	"github.com/dexrouter/swap-service/internal/entity"
)

const orderQueueDuplicateWindow = 2 * time.Minute

// JetStreamQueue is the durable JobQueue: a work-queue stream with
// file storage, a shared durable pull consumer, and broker-side
// duplicate detection keyed on order id. Attempt counters come from
// the broker's delivery count, so they survive process restarts.
type JetStreamQueue struct {
	js  nats.JetStreamContext
	sub *nats.Subscription
}

type JetStreamQueueConfig struct {
	AckWait    time.Duration
	MaxDeliver int
}

func NewJetStreamQueue(ctx context.Context, js nats.JetStreamContext, cfg JetStreamQueueConfig) (*JetStreamQueue, error) {
	queue := &JetStreamQueue{js: js}

	if err := queue.JetstreamEventInit(ctx); err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe(
		constant.OrderQueueSubjectExecute,
		constant.OrderQueueDurableConsumer,
		nats.AckExplicit(),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		return nil, err
	}
	queue.sub = sub

	return queue, nil
}

func (q *JetStreamQueue) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:       constant.OrderQueueStreamName,
		Subjects:   []string{constant.OrderQueueStreamSubjects},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: orderQueueDuplicateWindow,
	}

	stream, err := q.js.StreamInfo(constant.OrderQueueStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderQueueStreamName)
		_, err = q.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.OrderQueueStreamName)
	_, err = q.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, job entity.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ack, err := q.js.Publish(
		constant.OrderQueueSubjectExecute,
		payload,
		nats.MsgId(job.OrderID),
		nats.Context(ctx),
	)
	if err != nil {
		return err
	}
	if ack.Duplicate {
		return ErrDuplicateJob
	}

	return nil
}

func (q *JetStreamQueue) Fetch(ctx context.Context) (Delivery, error) {
	for {
		msgs, err := q.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		var job entity.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			logrus.Errorf("dropping malformed job payload: %v", err)
			_ = msg.Term()
			continue
		}

		attempt := 1
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			attempt = int(meta.NumDelivered)
		}

		return &jetStreamDelivery{msg: msg, job: job, attempt: attempt}, nil
	}
}

// Close intentionally leaves the durable consumer in place so
// unfinished jobs survive a restart; the subscription dies with the
// connection drain.
func (q *JetStreamQueue) Close() error {
	return nil
}

type jetStreamDelivery struct {
	msg     *nats.Msg
	job     entity.Job
	attempt int
}

func (d *jetStreamDelivery) Job() entity.Job {
	return d.job
}

func (d *jetStreamDelivery) Attempt() int {
	return d.attempt
}

func (d *jetStreamDelivery) Ack() error {
	return d.msg.Ack()
}

func (d *jetStreamDelivery) Retry(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

func (d *jetStreamDelivery) Term() error {
	return d.msg.Term()
}
