package router

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrouter/swap-service/internal/entity"
)

func quoteFor(venue string, output float64) entity.Quote {
	return entity.Quote{
		Venue:        venue,
		OutputAmount: decimal.NewFromFloat(output),
	}
}

func TestSelectBestPicksGreatestOutput(t *testing.T) {
	quotes := []entity.Quote{
		quoteFor("raydium", 314.55),
		quoteFor("orca", 317.64),
	}

	best, err := SelectBest(quotes)
	require.NoError(t, err)
	assert.Equal(t, "orca", best.Venue)
	assert.True(t, best.OutputAmount.Equal(decimal.NewFromFloat(317.64)))
}

func TestSelectBestTieBreaksOnInputOrder(t *testing.T) {
	quotes := []entity.Quote{
		quoteFor("raydium", 315.00),
		quoteFor("orca", 315.00),
	}

	best, err := SelectBest(quotes)
	require.NoError(t, err)
	assert.Equal(t, "raydium", best.Venue)

	// and the reverse listing flips the winner
	best, err = SelectBest([]entity.Quote{quotes[1], quotes[0]})
	require.NoError(t, err)
	assert.Equal(t, "orca", best.Venue)
}

func TestSelectBestSingleQuote(t *testing.T) {
	best, err := SelectBest([]entity.Quote{quoteFor("raydium", 1.23)})
	require.NoError(t, err)
	assert.Equal(t, "raydium", best.Venue)
}

func TestSelectBestEmpty(t *testing.T) {
	_, err := SelectBest(nil)
	require.ErrorIs(t, err, ErrNoQuotes)
}
