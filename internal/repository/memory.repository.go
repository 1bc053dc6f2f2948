package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/dexrouter/swap-service/internal/entity"
)

// MemoryOrderStore is an in-process entity.OrderStore with the same
// semantics as the Postgres store: terminal-status guard, per-order
// sequence assignment, copies handed out on every read. Used by the
// simulate command and tests.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]*entity.Order
	events map[string][]entity.StatusEvent
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*entity.Order),
		events: make(map[string][]entity.StatusEvent),
	}
}

func (s *MemoryOrderStore) Create(_ context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return entity.ErrOrderExists
	}

	clone := *order
	s.orders[order.ID] = &clone

	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, orderID string) (*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}

	clone := *order
	return &clone, nil
}

func (s *MemoryOrderStore) UpdateStatus(_ context.Context, orderID string, status entity.OrderStatus, update entity.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return entity.ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return entity.ErrOrderTerminal
	}

	order.Status = status
	order.UpdatedAt = update.UpdatedAt
	if update.Result != nil {
		price := update.Result.ExecutedPrice
		amount := update.Result.ExecutedAmount
		order.Venue = sql.NullString{String: update.Result.Venue, Valid: true}
		order.TxReference = sql.NullString{String: update.Result.TxReference, Valid: true}
		order.ExecutedPrice = &price
		order.ExecutedAmount = &amount
	}
	if update.ErrorMessage != "" {
		order.ErrorMessage = sql.NullString{String: update.ErrorMessage, Valid: true}
	}

	return nil
}

func (s *MemoryOrderStore) IncrementRetryCount(_ context.Context, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return 0, entity.ErrOrderNotFound
	}

	order.RetryCount++
	return order.RetryCount, nil
}

func (s *MemoryOrderStore) AppendEvent(_ context.Context, event *entity.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[event.OrderID]
	event.Sequence = int64(len(events)) + 1
	s.events[event.OrderID] = append(events, *event)

	return nil
}

func (s *MemoryOrderStore) ListEvents(_ context.Context, orderID string) ([]entity.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[orderID]
	out := make([]entity.StatusEvent, len(events))
	copy(out, events)

	return out, nil
}

func (s *MemoryOrderStore) ListRecent(_ context.Context, limit int) ([]entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	out := make([]entity.Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}
