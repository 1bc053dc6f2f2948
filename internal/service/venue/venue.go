package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
)

var (
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrExecutionFailed  = errors.New("execution failed")
	ErrUnsupportedPair  = errors.New("unsupported asset pair")
)

var (
	one       = decimal.NewFromInt(1)
	two       = decimal.NewFromInt(2)
	maxImpact = decimal.NewFromFloat(0.25)
)

const txReferenceLength = 88

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// SimulatedVenue models one liquidity source: a mid price per pair, a
// quoting spread, a fee, finite liquidity depth driving price impact,
// latency, and a transient failure rate. All randomness comes from the
// venue's own seeded source so runs are reproducible.
type SimulatedVenue struct {
	name string
	cfg  config.VenueConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedVenue(name string, cfg config.VenueConfig, seed int64) *SimulatedVenue {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &SimulatedVenue{
		name: name,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (v *SimulatedVenue) Name() string {
	return v.name
}

func (v *SimulatedVenue) Quote(ctx context.Context, req entity.QuoteRequest) (entity.Quote, error) {
	if err := v.sleepLatency(ctx); err != nil {
		return entity.Quote{}, err
	}
	if v.roll() < v.cfg.FailureRate {
		return entity.Quote{}, fmt.Errorf("venue %s: %w: quote feed degraded", v.name, ErrVenueUnavailable)
	}

	mid, ok := v.midPrice(req.InputAsset, req.OutputAsset)
	if !ok {
		return entity.Quote{}, entity.MarkPermanent(fmt.Errorf("venue %s: %w: %s/%s", v.name, ErrUnsupportedPair, req.InputAsset, req.OutputAsset))
	}

	price := v.quotePrice(mid)
	grossOut := req.AmountIn.Mul(price)
	impact := v.priceImpact(grossOut)
	outputAmount := grossOut.Mul(one.Sub(v.cfg.FeeRate)).Mul(one.Sub(impact))

	return entity.Quote{
		Venue:        v.name,
		InputAsset:   req.InputAsset,
		OutputAsset:  req.OutputAsset,
		AmountIn:     req.AmountIn,
		OutputAmount: outputAmount,
		Price:        price,
		FeeRate:      v.cfg.FeeRate,
		PriceImpact:  impact,
		QuotedAt:     time.Now().UTC(),
	}, nil
}

// Execute re-prices the quoted trade with the venue's execution-time
// variance and settles it. The slippage floor is enforced here, against
// the executed amount: breaching it is permanent, not retryable.
func (v *SimulatedVenue) Execute(ctx context.Context, req entity.ExecuteRequest) (entity.ExecutionResult, error) {
	if err := v.sleepLatency(ctx); err != nil {
		return entity.ExecutionResult{}, err
	}
	if v.roll() < v.cfg.FailureRate {
		return entity.ExecutionResult{}, fmt.Errorf("venue %s: %w: transaction dropped", v.name, ErrExecutionFailed)
	}

	variance := v.cfg.ExecutionVariance
	drift := decimal.NewFromFloat((v.roll()*2 - 1) * variance)
	executedPrice := req.Quote.Price.Mul(one.Add(drift))

	grossOut := req.Order.AmountIn.Mul(executedPrice)
	executedAmount := grossOut.
		Mul(one.Sub(req.Quote.FeeRate)).
		Mul(one.Sub(req.Quote.PriceImpact))

	if executedAmount.LessThan(req.MinOutputAmount) {
		return entity.ExecutionResult{}, entity.MarkPermanent(fmt.Errorf(
			"venue %s: %w: executed output %s below minimum %s",
			v.name, entity.ErrSlippageExceeded, executedAmount.StringFixed(6), req.MinOutputAmount.StringFixed(6),
		))
	}

	return entity.ExecutionResult{
		Venue:          v.name,
		TxReference:    v.newTxReference(),
		ExecutedPrice:  executedPrice,
		ExecutedAmount: executedAmount,
	}, nil
}

func (v *SimulatedVenue) midPrice(inputAsset, outputAsset string) (decimal.Decimal, bool) {
	mid, ok := v.cfg.MidPrice[PairKey(inputAsset, outputAsset)]
	if !ok || !mid.IsPositive() {
		return decimal.Decimal{}, false
	}

	return mid, true
}

// quotePrice applies half the configured spread below mid, then a
// noise term of up to a quarter spread either way.
func (v *SimulatedVenue) quotePrice(mid decimal.Decimal) decimal.Decimal {
	spread := decimal.New(v.cfg.SpreadBps, -4)
	halfSpread := spread.Div(two)
	noise := (v.roll() - 0.5) * float64(v.cfg.SpreadBps) / 2 / 10000

	return mid.Mul(one.Sub(halfSpread)).Mul(one.Add(decimal.NewFromFloat(noise)))
}

// priceImpact approximates slippage-from-size: trade notional over
// available depth, capped so a fat-fingered amount cannot produce a
// negative output.
func (v *SimulatedVenue) priceImpact(grossOut decimal.Decimal) decimal.Decimal {
	if !v.cfg.LiquidityDepth.IsPositive() {
		return decimal.Zero
	}

	impact := grossOut.Div(v.cfg.LiquidityDepth)
	if impact.GreaterThan(maxImpact) {
		return maxImpact
	}

	return impact
}

func (v *SimulatedVenue) sleepLatency(ctx context.Context) error {
	minLatency := v.cfg.LatencyMin
	maxLatency := v.cfg.LatencyMax
	if maxLatency < minLatency {
		maxLatency = minLatency
	}

	delay := minLatency
	if maxLatency > minLatency {
		v.mu.Lock()
		delay += time.Duration(v.rng.Int63n(int64(maxLatency-minLatency) + 1))
		v.mu.Unlock()
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (v *SimulatedVenue) roll() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.rng.Float64()
}

func (v *SimulatedVenue) newTxReference() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	b := make([]byte, txReferenceLength)
	for i := range b {
		b[i] = base58Alphabet[v.rng.Intn(len(base58Alphabet))]
	}

	return string(b)
}

// PairKey normalizes an asset pair to the "IN/OUT" form used by the
// mid_price config map.
func PairKey(inputAsset, outputAsset string) string {
	return strings.ToUpper(strings.TrimSpace(inputAsset)) + "/" + strings.ToUpper(strings.TrimSpace(outputAsset))
}

// BuildVenues constructs every configured venue, ordered by name so
// quote gathering and tie-breaking stay deterministic across runs.
// Each venue derives its own seed so two venues never share a
// random stream.
func BuildVenues(cfgs map[string]config.VenueConfig, seed int64) []entity.Venue {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	venues := make([]entity.Venue, 0, len(names))
	for i, name := range names {
		venueSeed := seed
		if venueSeed != 0 {
			venueSeed += int64(i + 1)
		}
		venues = append(venues, NewSimulatedVenue(name, cfgs[name], venueSeed))
	}

	return venues
}

// DefaultVenueConfigs returns the two stock venues used when the
// config file does not declare any.
func DefaultVenueConfigs() map[string]config.VenueConfig {
	return map[string]config.VenueConfig{
		"raydium": {
			MidPrice: map[string]decimal.Decimal{
				"SOL/USDC": decimal.NewFromFloat(150.0),
				"USDC/SOL": decimal.NewFromFloat(0.00666),
			},
			SpreadBps:         20,
			FeeRate:           decimal.NewFromFloat(0.0025),
			LiquidityDepth:    decimal.NewFromInt(2_000_000),
			LatencyMin:        20 * time.Millisecond,
			LatencyMax:        90 * time.Millisecond,
			FailureRate:       0.05,
			ExecutionVariance: 0.005,
		},
		"orca": {
			MidPrice: map[string]decimal.Decimal{
				"SOL/USDC": decimal.NewFromFloat(150.0),
				"USDC/SOL": decimal.NewFromFloat(0.00666),
			},
			SpreadBps:         25,
			FeeRate:           decimal.NewFromFloat(0.003),
			LiquidityDepth:    decimal.NewFromInt(1_200_000),
			LatencyMin:        30 * time.Millisecond,
			LatencyMax:        120 * time.Millisecond,
			FailureRate:       0.05,
			ExecutionVariance: 0.005,
		},
	}
}
