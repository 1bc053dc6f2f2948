package repository

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dexrouter/swap-service/internal/entity"
)

const (
	orderCacheKeyPrefix  = "swap:order:"
	defaultOrderCacheTTL = 5 * time.Minute
)

// CachedOrderStore decorates an entity.OrderStore with a read-through
// redis cache for point lookups. Mutations invalidate; cache failures
// fall back to the inner store and are logged, never surfaced.
type CachedOrderStore struct {
	inner  entity.OrderStore
	client *redis.Client
	ttl    time.Duration
}

func NewCachedOrderStore(inner entity.OrderStore, client *redis.Client, ttl time.Duration) *CachedOrderStore {
	if ttl <= 0 {
		ttl = defaultOrderCacheTTL
	}

	return &CachedOrderStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

func (s *CachedOrderStore) Create(ctx context.Context, order *entity.Order) error {
	if err := s.inner.Create(ctx, order); err != nil {
		return err
	}

	s.prime(ctx, order)
	return nil
}

func (s *CachedOrderStore) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	raw, err := s.client.Get(ctx, orderCacheKey(orderID)).Result()
	if err == nil {
		var order entity.Order
		if unmarshalErr := json.Unmarshal([]byte(raw), &order); unmarshalErr == nil {
			return &order, nil
		}
		s.invalidate(ctx, orderID)
	} else if err != redis.Nil {
		logrus.WithError(err).Warn("order cache read failed")
	}

	order, err := s.inner.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.prime(ctx, order)
	return order, nil
}

func (s *CachedOrderStore) UpdateStatus(ctx context.Context, orderID string, status entity.OrderStatus, update entity.StatusUpdate) error {
	if err := s.inner.UpdateStatus(ctx, orderID, status, update); err != nil {
		return err
	}

	s.invalidate(ctx, orderID)
	return nil
}

func (s *CachedOrderStore) IncrementRetryCount(ctx context.Context, orderID string) (int, error) {
	newCount, err := s.inner.IncrementRetryCount(ctx, orderID)
	if err != nil {
		return 0, err
	}

	s.invalidate(ctx, orderID)
	return newCount, nil
}

func (s *CachedOrderStore) AppendEvent(ctx context.Context, event *entity.StatusEvent) error {
	return s.inner.AppendEvent(ctx, event)
}

func (s *CachedOrderStore) ListEvents(ctx context.Context, orderID string) ([]entity.StatusEvent, error) {
	return s.inner.ListEvents(ctx, orderID)
}

func (s *CachedOrderStore) ListRecent(ctx context.Context, limit int) ([]entity.Order, error) {
	return s.inner.ListRecent(ctx, limit)
}

func (s *CachedOrderStore) prime(ctx context.Context, order *entity.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		logrus.WithError(err).Warn("order cache marshal failed")
		return
	}

	if err := s.client.Set(ctx, orderCacheKey(order.ID), payload, s.ttl).Err(); err != nil {
		logrus.WithError(err).Warn("order cache write failed")
	}
}

func (s *CachedOrderStore) invalidate(ctx context.Context, orderID string) {
	if err := s.client.Del(ctx, orderCacheKey(orderID)).Err(); err != nil {
		logrus.WithError(err).Warn("order cache invalidation failed")
	}
}

func orderCacheKey(orderID string) string {
	return orderCacheKeyPrefix + orderID
}
