package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single venue's answer to "how much OutputAsset for AmountIn
// of InputAsset, right now".
type Quote struct {
	Venue        string          `json:"venue"`
	InputAsset   string          `json:"input_asset"`
	OutputAsset  string          `json:"output_asset"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	OutputAmount decimal.Decimal `json:"output_amount"`
	Price        decimal.Decimal `json:"price"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	PriceImpact  decimal.Decimal `json:"price_impact"`
	QuotedAt     time.Time       `json:"quoted_at"`
}

type ExecutionResult struct {
	Venue          string          `json:"venue"`
	TxReference    string          `json:"tx_reference"`
	ExecutedPrice  decimal.Decimal `json:"executed_price"`
	ExecutedAmount decimal.Decimal `json:"executed_amount"`
}

// RoutingDecision records every quote gathered for an order and which
// venue won. Emitted on the status stream so the routing choice is
// auditable after the fact.
type RoutingDecision struct {
	Quotes          []Quote         `json:"quotes"`
	SelectedVenue   string          `json:"selected_venue"`
	MinOutputAmount decimal.Decimal `json:"min_output_amount"`
}
