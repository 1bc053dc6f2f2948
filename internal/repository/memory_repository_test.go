package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/entity"
)

func pendingOrder(id string, createdAt time.Time) *entity.Order {
	return &entity.Order{
		ID:                id,
		Type:              entity.OrderTypeMarket,
		InputAsset:        "SOL",
		OutputAsset:       "USDC",
		AmountIn:          decimal.NewFromFloat(2.1),
		SlippageTolerance: decimal.NewFromFloat(0.01),
		Status:            entity.OrderStatusPending,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()
	now := time.Now().UTC()

	order := pendingOrder("ord-1", now)
	require.NoError(t, store.Create(ctx, order))

	got, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.ID)
	assert.Equal(t, entity.OrderStatusPending, got.Status)
	assert.True(t, got.AmountIn.Equal(decimal.NewFromFloat(2.1)))

	// reads hand out copies, mutations on either side stay private
	got.Status = entity.OrderStatusFailed
	order.InputAsset = "BONK"

	fresh, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, fresh.Status)
	assert.Equal(t, "SOL", fresh.InputAsset)
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingOrder("ord-1", time.Now())))
	err := store.Create(ctx, pendingOrder("ord-1", time.Now()))
	require.ErrorIs(t, err, entity.ErrOrderExists)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryOrderStore()
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestMemoryStoreUpdateStatusLifecycle(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, pendingOrder("ord-1", now)))

	routedAt := now.Add(time.Second)
	require.NoError(t, store.UpdateStatus(ctx, "ord-1", entity.OrderStatusRouting, entity.StatusUpdate{UpdatedAt: routedAt}))

	got, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusRouting, got.Status)
	assert.True(t, got.UpdatedAt.Equal(routedAt))

	result := &entity.ExecutionResult{
		Venue:          "raydium",
		TxReference:    "3xAmpleRef",
		ExecutedPrice:  decimal.NewFromFloat(149.82),
		ExecutedAmount: decimal.NewFromFloat(314.55),
	}
	require.NoError(t, store.UpdateStatus(ctx, "ord-1", entity.OrderStatusConfirmed, entity.StatusUpdate{
		Result:    result,
		UpdatedAt: now.Add(2 * time.Second),
	}))

	got, err = store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, got.Status)
	assert.Equal(t, "raydium", got.Venue.String)
	assert.True(t, got.Venue.Valid)
	assert.Equal(t, "3xAmpleRef", got.TxReference.String)
	require.NotNil(t, got.ExecutedPrice)
	require.NotNil(t, got.ExecutedAmount)
	assert.True(t, got.ExecutedPrice.Equal(decimal.NewFromFloat(149.82)))
	assert.True(t, got.ExecutedAmount.Equal(decimal.NewFromFloat(314.55)))

	// terminal orders refuse any further mutation
	err = store.UpdateStatus(ctx, "ord-1", entity.OrderStatusFailed, entity.StatusUpdate{UpdatedAt: now})
	require.ErrorIs(t, err, entity.ErrOrderTerminal)
}

func TestMemoryStoreUpdateStatusRecordsError(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingOrder("ord-1", time.Now())))
	require.NoError(t, store.UpdateStatus(ctx, "ord-1", entity.OrderStatusFailed, entity.StatusUpdate{
		ErrorMessage: "no venue produced a quote",
		UpdatedAt:    time.Now(),
	}))

	got, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, got.Status)
	assert.Equal(t, "no venue produced a quote", got.ErrorMessage.String)

	err = store.UpdateStatus(ctx, "unknown", entity.OrderStatusFailed, entity.StatusUpdate{})
	require.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestMemoryStoreIncrementRetryCount(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingOrder("ord-1", time.Now())))

	n, err := store.IncrementRetryCount(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.IncrementRetryCount(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)

	_, err = store.IncrementRetryCount(ctx, "unknown")
	require.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestMemoryStoreAppendAssignsSequences(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	statuses := []entity.OrderStatus{
		entity.OrderStatusPending,
		entity.OrderStatusRouting,
		entity.OrderStatusBuilding,
	}
	for i, status := range statuses {
		event := &entity.StatusEvent{
			OrderID:   "ord-1",
			Status:    status,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.AppendEvent(ctx, event))
		assert.Equal(t, int64(i+1), event.Sequence, "sequence must be assigned on the passed event")
	}

	// a second order gets its own sequence space
	other := &entity.StatusEvent{OrderID: "ord-2", Status: entity.OrderStatusPending}
	require.NoError(t, store.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence)

	events, err := store.ListEvents(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.Sequence)
		assert.Equal(t, statuses[i], event.Status)
	}

	empty, err := store.ListEvents(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreListRecent(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		order := pendingOrder("ord-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, order))
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ord-c", recent[0].ID)
	assert.Equal(t, "ord-b", recent[1].ID)

	all, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
