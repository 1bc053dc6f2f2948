package statusstream

import (
	"sync"

	"github.com/dexrouter/swap-service/internal/entity"
)

const defaultSubscriberBuffer = 32

// Subscription is one listener on one order's status events. Close
// releases it; the fanout also drops it when the buffer saturates,
// treating a reader that stopped draining as disconnected.
type Subscription struct {
	orderID string
	ch      chan entity.StatusEvent
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) OrderID() string {
	return s.orderID
}

// Events yields the order's status events in publish order. The
// channel is never closed; select on Done to observe teardown.
func (s *Subscription) Events() <-chan entity.StatusEvent {
	return s.ch
}

// Done is closed once the subscription is no longer served.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Fanout delivers status events to at most one subscriber per order
// id. Publishing to an order nobody watches is a silent no-op, and
// publishing never blocks: per-order events are enqueued in
// generation order, and a subscriber that cannot keep up is dropped.
type Fanout struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
}

func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Fanout{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a listener for the order's events. A second
// subscribe for the same order supersedes the first, which is closed.
func (f *Fanout) Subscribe(orderID string) *Subscription {
	sub := &Subscription{
		orderID: orderID,
		ch:      make(chan entity.StatusEvent, f.buffer),
		done:    make(chan struct{}),
	}

	f.mu.Lock()
	prev := f.subs[orderID]
	f.subs[orderID] = sub
	f.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return sub
}

// Unsubscribe drops sub if it is still the order's current listener.
func (f *Fanout) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	f.mu.Lock()
	if f.subs[sub.orderID] == sub {
		delete(f.subs, sub.orderID)
	}
	f.mu.Unlock()

	sub.Close()
}

// Publish hands the event to the order's subscriber, if any.
func (f *Fanout) Publish(event entity.StatusEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, ok := f.subs[event.OrderID]
	if !ok {
		return
	}
	if sub.closed() {
		delete(f.subs, event.OrderID)
		return
	}

	select {
	case sub.ch <- event:
	default:
		// Reader stopped draining, treat it as disconnected.
		delete(f.subs, event.OrderID)
		sub.Close()
	}
}

// ActiveSubscriberCount reports how many orders have a live listener.
func (f *Fanout) ActiveSubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, sub := range f.subs {
		if !sub.closed() {
			count++
		}
	}
	return count
}
