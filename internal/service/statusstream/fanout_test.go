package statusstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/entity"
)

func eventFor(orderID string, seq int64, status entity.OrderStatus) entity.StatusEvent {
	return entity.StatusEvent{
		OrderID:   orderID,
		Sequence:  seq,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFanoutPublishWithoutSubscriberIsNoOp(t *testing.T) {
	f := NewFanout(4)

	// must neither panic nor block
	f.Publish(eventFor("ord-1", 1, entity.OrderStatusPending))
	assert.Equal(t, 0, f.ActiveSubscriberCount())
}

func TestFanoutDeliversInPublishOrder(t *testing.T) {
	f := NewFanout(8)
	sub := f.Subscribe("ord-1")
	defer f.Unsubscribe(sub)

	statuses := []entity.OrderStatus{
		entity.OrderStatusPending,
		entity.OrderStatusRouting,
		entity.OrderStatusBuilding,
		entity.OrderStatusSubmitted,
		entity.OrderStatusConfirmed,
	}
	for i, status := range statuses {
		f.Publish(eventFor("ord-1", int64(i+1), status))
	}

	for i, want := range statuses {
		select {
		case got := <-sub.Events():
			assert.Equal(t, want, got.Status)
			assert.Equal(t, int64(i+1), got.Sequence)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func TestFanoutIgnoresOtherOrders(t *testing.T) {
	f := NewFanout(4)
	sub := f.Subscribe("ord-1")
	defer f.Unsubscribe(sub)

	f.Publish(eventFor("ord-2", 1, entity.OrderStatusPending))

	select {
	case event := <-sub.Events():
		t.Fatalf("received foreign event for order %s", event.OrderID)
	default:
	}
}

func TestFanoutSecondSubscribeSupersedesFirst(t *testing.T) {
	f := NewFanout(4)
	first := f.Subscribe("ord-1")
	second := f.Subscribe("ord-1")
	defer f.Unsubscribe(second)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded subscription was not closed")
	}
	assert.Equal(t, 1, f.ActiveSubscriberCount())

	f.Publish(eventFor("ord-1", 1, entity.OrderStatusRouting))
	select {
	case event := <-second.Events():
		assert.Equal(t, entity.OrderStatusRouting, event.Status)
	case <-time.After(time.Second):
		t.Fatal("current subscription missed the event")
	}
	select {
	case <-first.Events():
		t.Fatal("superseded subscription still receives events")
	default:
	}
}

func TestFanoutCloseCountsAsDisconnect(t *testing.T) {
	f := NewFanout(4)
	sub := f.Subscribe("ord-1")
	require.Equal(t, 1, f.ActiveSubscriberCount())

	// closing without Unsubscribe must still drop the listener
	sub.Close()
	assert.Equal(t, 0, f.ActiveSubscriberCount())

	f.Publish(eventFor("ord-1", 1, entity.OrderStatusRouting))
	select {
	case <-sub.Events():
		t.Fatal("closed subscription received an event")
	default:
	}
}

func TestFanoutDropsSaturatedSubscriber(t *testing.T) {
	f := NewFanout(1)
	sub := f.Subscribe("ord-1")

	f.Publish(eventFor("ord-1", 1, entity.OrderStatusPending))
	// buffer of one is now full, the next publish evicts the reader
	f.Publish(eventFor("ord-1", 2, entity.OrderStatusRouting))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("saturated subscription was not closed")
	}
	assert.Equal(t, 0, f.ActiveSubscriberCount())

	// the event that made it into the buffer is still drainable
	select {
	case event := <-sub.Events():
		assert.Equal(t, int64(1), event.Sequence)
	default:
		t.Fatal("buffered event was lost")
	}
}

func TestFanoutUnsubscribeIsIdempotent(t *testing.T) {
	f := NewFanout(4)
	sub := f.Subscribe("ord-1")

	f.Unsubscribe(sub)
	f.Unsubscribe(sub)
	f.Unsubscribe(nil)

	assert.Equal(t, 0, f.ActiveSubscriberCount())

	// a stale unsubscribe must not evict a fresh listener
	replacement := f.Subscribe("ord-1")
	f.Unsubscribe(sub)
	assert.Equal(t, 1, f.ActiveSubscriberCount())
	f.Unsubscribe(replacement)
	assert.Equal(t, 0, f.ActiveSubscriberCount())
}
