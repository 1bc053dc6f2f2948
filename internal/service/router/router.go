package router

import (
	"errors"

	"github.com/dexrouter/swap-service/internal/entity"
)

var (
	ErrNoQuotes = errors.New("no quotes available")
)

// SelectBest picks the quote with the strictly greatest output amount.
// Ties resolve to the earliest quote in input order, so callers must
// pass quotes in a deterministic venue order.
func SelectBest(quotes []entity.Quote) (entity.Quote, error) {
	if len(quotes) == 0 {
		return entity.Quote{}, ErrNoQuotes
	}

	best := quotes[0]
	for _, quote := range quotes[1:] {
		if quote.OutputAmount.GreaterThan(best.OutputAmount) {
			best = quote
		}
	}

	return best, nil
}
