package entity

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string
type OrderStatus string

const (
	OrderTypeMarket OrderType = "MARKET"

	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusRouting   OrderStatus = "ROUTING"
	OrderStatusBuilding  OrderStatus = "BUILDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal reports whether no further status mutation is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

// CanTransitionTo reports whether next is a valid forward step in the
// lifecycle. Any non-terminal status may fail; terminal statuses never
// transition again.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrderStatusFailed {
		return true
	}

	switch s {
	case OrderStatusPending:
		return next == OrderStatusRouting
	case OrderStatusRouting:
		return next == OrderStatusBuilding
	case OrderStatusBuilding:
		return next == OrderStatusSubmitted
	case OrderStatusSubmitted:
		return next == OrderStatusConfirmed
	default:
		return false
	}
}

type Order struct {
	ID                string           `db:"id" json:"id"`
	Type              OrderType        `db:"type" json:"type"`
	InputAsset        string           `db:"input_asset" json:"input_asset"`
	OutputAsset       string           `db:"output_asset" json:"output_asset"`
	AmountIn          decimal.Decimal  `db:"amount_in" json:"amount_in"`
	SlippageTolerance decimal.Decimal  `db:"slippage_tolerance" json:"slippage_tolerance"`
	Status            OrderStatus      `db:"status" json:"status"`
	Venue             sql.NullString   `db:"venue" json:"venue"`
	TxReference       sql.NullString   `db:"tx_reference" json:"tx_reference"`
	ExecutedPrice     *decimal.Decimal `db:"executed_price" json:"executed_price"`
	ExecutedAmount    *decimal.Decimal `db:"executed_amount" json:"executed_amount"`
	ErrorMessage      sql.NullString   `db:"error_message" json:"error_message"`
	RetryCount        int              `db:"retry_count" json:"retry_count"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

func (o Order) TableName() string {
	return "orders"
}

func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidOrder)
	}
	if o.Type != OrderTypeMarket {
		return fmt.Errorf("%w: unsupported order type %q", ErrInvalidOrder, o.Type)
	}
	if o.InputAsset == "" || o.OutputAsset == "" {
		return fmt.Errorf("%w: input and output assets are required", ErrInvalidOrder)
	}
	if strings.EqualFold(o.InputAsset, o.OutputAsset) {
		return fmt.Errorf("%w: input and output assets must differ", ErrInvalidOrder)
	}
	if !o.AmountIn.IsPositive() {
		return fmt.Errorf("%w: amount_in must be positive", ErrInvalidOrder)
	}
	if o.SlippageTolerance.IsNegative() || o.SlippageTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: slippage_tolerance must be within [0, 1]", ErrInvalidOrder)
	}
	return nil
}

// MinOutput applies the order's slippage tolerance to a quoted output
// amount: quoted * (1 - tolerance).
func (o *Order) MinOutput(quotedOut decimal.Decimal) decimal.Decimal {
	return quotedOut.Mul(decimal.NewFromInt(1).Sub(o.SlippageTolerance))
}

// Snapshot captures the immutable admission-time fields of the order.
func (o *Order) Snapshot() *OrderSnapshot {
	return &OrderSnapshot{
		ID:                o.ID,
		Type:              o.Type,
		InputAsset:        o.InputAsset,
		OutputAsset:       o.OutputAsset,
		AmountIn:          o.AmountIn,
		SlippageTolerance: o.SlippageTolerance,
		CreatedAt:         o.CreatedAt,
	}
}

type OrderSnapshot struct {
	ID                string          `json:"id"`
	Type              OrderType       `json:"type"`
	InputAsset        string          `json:"input_asset"`
	OutputAsset       string          `json:"output_asset"`
	AmountIn          decimal.Decimal `json:"amount_in"`
	SlippageTolerance decimal.Decimal `json:"slippage_tolerance"`
	CreatedAt         time.Time       `json:"created_at"`
}
