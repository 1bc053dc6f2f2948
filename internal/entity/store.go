package entity

import (
	"context"
	"time"
)

// StatusUpdate carries the optional columns written alongside a status
// transition. Result is set on CONFIRMED, ErrorMessage on FAILED.
type StatusUpdate struct {
	Result       *ExecutionResult
	ErrorMessage string
	UpdatedAt    time.Time
}

type OrderStore interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus, update StatusUpdate) error
	IncrementRetryCount(ctx context.Context, orderID string) (int, error)
	AppendEvent(ctx context.Context, event *StatusEvent) error
	ListEvents(ctx context.Context, orderID string) ([]StatusEvent, error)
	ListRecent(ctx context.Context, limit int) ([]Order, error)
}
