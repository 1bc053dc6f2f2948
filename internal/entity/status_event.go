package entity

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// StatusEvent is one entry in an order's append-only lifecycle log.
// Sequence is assigned by the store and is strictly increasing per
// order. Attempt is the scheduler attempt that produced the event,
// starting at 0 for the admission event.
type StatusEvent struct {
	OrderID   string             `db:"order_id" json:"order_id"`
	Sequence  int64              `db:"sequence" json:"sequence"`
	Status    OrderStatus        `db:"status" json:"status"`
	Attempt   int                `db:"attempt" json:"attempt"`
	Payload   StatusEventPayload `db:"payload" json:"payload"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}

func (e StatusEvent) TableName() string {
	return "order_events"
}

// StatusEventPayload carries the status-specific detail of an event.
// At most one field is set: the order snapshot on PENDING, the routing
// decision on the informational ROUTING event, the execution result on
// CONFIRMED, and the error message on FAILED.
type StatusEventPayload struct {
	Order     *OrderSnapshot   `json:"order,omitempty"`
	Routing   *RoutingDecision `json:"routing,omitempty"`
	Execution *ExecutionResult `json:"execution,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (p StatusEventPayload) Empty() bool {
	return p.Order == nil && p.Routing == nil && p.Execution == nil && p.Error == ""
}

func (p StatusEventPayload) Value() (driver.Value, error) {
	if p.Empty() {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *StatusEventPayload) Scan(src any) error {
	if src == nil {
		*p = StatusEventPayload{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported status event payload type %T", src)
	}
}

// ReplayOrder folds a full event history back into the order record it
// describes. The history must start with the PENDING admission event
// and carry strictly increasing sequence numbers.
func ReplayOrder(events []StatusEvent) (*Order, error) {
	if len(events) == 0 {
		return nil, ErrEmptyEventHistory
	}

	first := events[0]
	if first.Status != OrderStatusPending || first.Payload.Order == nil {
		return nil, fmt.Errorf("%w: history must begin with a pending snapshot", ErrEventOutOfOrder)
	}

	snap := first.Payload.Order
	order := &Order{
		ID:                snap.ID,
		Type:              snap.Type,
		InputAsset:        snap.InputAsset,
		OutputAsset:       snap.OutputAsset,
		AmountIn:          snap.AmountIn,
		SlippageTolerance: snap.SlippageTolerance,
		Status:            OrderStatusPending,
		CreatedAt:         snap.CreatedAt,
		UpdatedAt:         first.CreatedAt,
	}

	lastSeq := int64(0)
	for _, event := range events {
		if event.OrderID != order.ID {
			return nil, fmt.Errorf("%w: event for order %s in history of %s", ErrEventOutOfOrder, event.OrderID, order.ID)
		}
		if event.Sequence <= lastSeq {
			return nil, fmt.Errorf("%w: sequence %d after %d", ErrEventOutOfOrder, event.Sequence, lastSeq)
		}
		lastSeq = event.Sequence

		order.Status = event.Status
		order.UpdatedAt = event.CreatedAt
		if event.Attempt > order.RetryCount {
			order.RetryCount = event.Attempt
		}

		if result := event.Payload.Execution; result != nil {
			price := result.ExecutedPrice
			amount := result.ExecutedAmount
			order.Venue = sql.NullString{String: result.Venue, Valid: true}
			order.TxReference = sql.NullString{String: result.TxReference, Valid: true}
			order.ExecutedPrice = &price
			order.ExecutedAmount = &amount
		}
		if event.Payload.Error != "" {
			order.ErrorMessage = sql.NullString{String: event.Payload.Error, Valid: true}
		}
	}

	return order, nil
}
