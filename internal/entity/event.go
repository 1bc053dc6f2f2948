package entity

import "context"

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}

// StatusPublisher delivers status events to live observers. Delivery is
// best effort; the event log in the store is the source of truth.
type StatusPublisher interface {
	Publish(event StatusEvent)
}
