package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type QuoteRequest struct {
	InputAsset  string
	OutputAsset string
	AmountIn    decimal.Decimal
}

type ExecuteRequest struct {
	Order Order
	Quote Quote
	// MinOutputAmount is the slippage floor. Venues must fail the
	// execution permanently when the executed amount lands below it.
	MinOutputAmount decimal.Decimal
}

type Venue interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error)
}
