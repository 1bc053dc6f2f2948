package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/service/router"
	"github.com/dexrouter/swap-service/internal/util"
)

var (
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrNoVenuesConfigured   = errors.New("no venues configured")
	ErrRoutingFailed        = errors.New("all venues failed to quote")
	ErrVenueNotFound        = errors.New("selected venue not found")
)

const (
	defaultQuoteTimeout   = 10 * time.Second
	defaultExecuteTimeout = 20 * time.Second
)

var (
	defaultQuoteRetry   = config.RetryConfig{MaxRetries: 2, BaseDelay: 200 * time.Millisecond}
	defaultExecuteRetry = config.RetryConfig{MaxRetries: 2, BaseDelay: 500 * time.Millisecond}
	defaultSlippage     = decimal.NewFromFloat(0.01)
)

// Pipeline drives one order through its full lifecycle:
// PENDING -> ROUTING -> BUILDING -> SUBMITTED -> CONFIRMED/FAILED.
// Every transition is persisted, appended to the order's event log,
// and published to the status stream. A Run is restartable from
// scratch: the scheduler re-invokes it on transient failure and the
// pipeline re-quotes and re-executes without resuming mid-way.
type Pipeline struct {
	store     entity.OrderStore
	venues    []entity.Venue
	publisher entity.StatusPublisher
	cfg       config.PipelineConfig
}

func NewPipeline(store entity.OrderStore, venues []entity.Venue, publisher entity.StatusPublisher, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		store:     store,
		venues:    venues,
		publisher: publisher,
		cfg:       normalizePipelineConfig(cfg),
	}
}

func (p *Pipeline) DefaultSlippage() decimal.Decimal {
	return p.cfg.DefaultSlippage
}

// Admit validates and persists a new order in PENDING and emits the
// admission event carrying the order snapshot. It does not enqueue:
// that is the admission boundary's next step.
func (p *Pipeline) Admit(ctx context.Context, order *entity.Order) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := order.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	order.Status = entity.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	if err := p.store.Create(ctx, order); err != nil {
		return err
	}

	event := &entity.StatusEvent{
		OrderID:   order.ID,
		Status:    entity.OrderStatusPending,
		Attempt:   0,
		Payload:   entity.StatusEventPayload{Order: order.Snapshot()},
		CreatedAt: order.CreatedAt,
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	p.publisher.Publish(*event)

	logrus.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"pair":      order.InputAsset + "/" + order.OutputAsset,
		"amount_in": order.AmountIn.String(),
	}).Info("order admitted")

	return nil
}

// Run executes the whole state machine for one order. Errors marked
// permanent must not be retried by the caller; anything else is fair
// game for a job-level retry.
func (p *Pipeline) Run(ctx context.Context, orderID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	order, err := p.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			return entity.MarkPermanent(err)
		}
		return err
	}
	if order.Status.Terminal() {
		logrus.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Warn("order already terminal, skipping run")
		return nil
	}
	if order.Type != entity.OrderTypeMarket {
		return entity.MarkPermanent(fmt.Errorf("%w: %s", ErrUnsupportedOrderType, order.Type))
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"attempt":  order.RetryCount,
	})

	if err := p.transition(ctx, order, entity.OrderStatusRouting, entity.StatusEventPayload{}); err != nil {
		return err
	}

	quotes, err := p.fetchQuotes(ctx, order)
	if err != nil {
		return err
	}

	selected, err := router.SelectBest(quotes)
	if err != nil {
		return err
	}

	minOutput := order.MinOutput(selected.OutputAmount)
	decision := &entity.RoutingDecision{
		Quotes:          quotes,
		SelectedVenue:   selected.Venue,
		MinOutputAmount: minOutput,
	}
	if err := p.appendInfoEvent(ctx, order, entity.StatusEventPayload{Routing: decision}); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"venue":         selected.Venue,
		"quotes":        len(quotes),
		"output_amount": selected.OutputAmount.String(),
	}).Info("route selected")

	// Quote-side slippage floor. With a non-negative tolerance this
	// cannot trip on the quote itself; the binding check runs inside
	// the venue against the executed amount.
	if selected.OutputAmount.LessThan(minOutput) {
		return entity.MarkPermanent(fmt.Errorf(
			"venue %s: %w: quoted output %s below minimum %s",
			selected.Venue, entity.ErrSlippageExceeded, selected.OutputAmount.StringFixed(6), minOutput.StringFixed(6),
		))
	}

	if err := p.transition(ctx, order, entity.OrderStatusBuilding, entity.StatusEventPayload{}); err != nil {
		return err
	}
	if err := p.transition(ctx, order, entity.OrderStatusSubmitted, entity.StatusEventPayload{}); err != nil {
		return err
	}

	result, err := p.executeSwap(ctx, order, selected, minOutput)
	if err != nil {
		return err
	}

	if err := p.confirm(ctx, order, result); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"venue":           result.Venue,
		"tx_reference":    result.TxReference,
		"executed_amount": result.ExecutedAmount.String(),
	}).Info("order confirmed")

	return nil
}

// Fail marks the order terminally failed with cause as its error
// message. Safe to call on orders already terminal or missing: both
// are no-ops, so a redelivered failure cannot double-fail an order.
func (p *Pipeline) Fail(ctx context.Context, orderID string, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	order, err := p.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	if order.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	message := cause.Error()
	update := entity.StatusUpdate{ErrorMessage: message, UpdatedAt: now}
	if err := p.store.UpdateStatus(ctx, orderID, entity.OrderStatusFailed, update); err != nil {
		if errors.Is(err, entity.ErrOrderTerminal) {
			return nil
		}
		return err
	}
	order.Status = entity.OrderStatusFailed
	order.UpdatedAt = now

	if err := p.appendEvent(ctx, order, entity.OrderStatusFailed, entity.StatusEventPayload{Error: message}, now); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"attempt":  order.RetryCount,
	}).Errorf("order failed: %s", message)

	return nil
}

// fetchQuotes asks every venue concurrently, each fetch wrapped in its
// own retry policy, and returns the survivors in venue order so the
// route selector's tie-break stays deterministic.
func (p *Pipeline) fetchQuotes(ctx context.Context, order *entity.Order) ([]entity.Quote, error) {
	if len(p.venues) == 0 {
		return nil, entity.MarkPermanent(ErrNoVenuesConfigured)
	}

	req := entity.QuoteRequest{
		InputAsset:  order.InputAsset,
		OutputAsset: order.OutputAsset,
		AmountIn:    order.AmountIn,
	}

	type quoteOutcome struct {
		idx   int
		quote entity.Quote
		err   error
	}

	outcomes := make(chan quoteOutcome, len(p.venues))
	for idx, v := range p.venues {
		go func(idx int, v entity.Venue) {
			quote, err := p.fetchQuote(ctx, v, req)
			outcomes <- quoteOutcome{idx: idx, quote: quote, err: err}
		}(idx, v)
	}

	quotesByVenue := make([]*entity.Quote, len(p.venues))
	var lastErr error
	allPermanent := true
	for range p.venues {
		outcome := <-outcomes
		if outcome.err != nil {
			lastErr = outcome.err
			if !entity.IsPermanent(outcome.err) {
				allPermanent = false
			}
			logrus.WithFields(logrus.Fields{
				"order_id": order.ID,
				"venue":    p.venues[outcome.idx].Name(),
			}).Warnf("quote fetch failed: %v", outcome.err)
			continue
		}

		quote := outcome.quote
		quotesByVenue[outcome.idx] = &quote
	}

	quotes := make([]entity.Quote, 0, len(p.venues))
	for _, quote := range quotesByVenue {
		if quote != nil {
			quotes = append(quotes, *quote)
		}
	}
	if len(quotes) == 0 {
		err := fmt.Errorf("%w for %s/%s: %v", ErrRoutingFailed, order.InputAsset, order.OutputAsset, lastErr)
		if allPermanent {
			return nil, entity.MarkPermanent(err)
		}
		return nil, err
	}

	return quotes, nil
}

func (p *Pipeline) fetchQuote(ctx context.Context, v entity.Venue, req entity.QuoteRequest) (entity.Quote, error) {
	var quote entity.Quote
	err := util.WithRetry(ctx, p.cfg.QuoteRetry.MaxRetries, p.cfg.QuoteRetry.BaseDelay, func(ctx context.Context) error {
		quoteCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
		defer cancel()

		fetched, err := v.Quote(quoteCtx, req)
		if err != nil {
			return err
		}

		quote = fetched
		return nil
	})

	return quote, err
}

func (p *Pipeline) executeSwap(ctx context.Context, order *entity.Order, quote entity.Quote, minOutput decimal.Decimal) (entity.ExecutionResult, error) {
	selectedVenue, err := p.venueByName(quote.Venue)
	if err != nil {
		return entity.ExecutionResult{}, entity.MarkPermanent(err)
	}

	req := entity.ExecuteRequest{
		Order:           *order,
		Quote:           quote,
		MinOutputAmount: minOutput,
	}

	var result entity.ExecutionResult
	err = util.WithRetry(ctx, p.cfg.ExecuteRetry.MaxRetries, p.cfg.ExecuteRetry.BaseDelay, func(ctx context.Context) error {
		execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecuteTimeout)
		defer cancel()

		executed, err := selectedVenue.Execute(execCtx, req)
		if err != nil {
			return err
		}

		result = executed
		return nil
	})

	return result, err
}

func (p *Pipeline) confirm(ctx context.Context, order *entity.Order, result entity.ExecutionResult) error {
	now := time.Now().UTC()
	update := entity.StatusUpdate{Result: &result, UpdatedAt: now}
	if err := p.store.UpdateStatus(ctx, order.ID, entity.OrderStatusConfirmed, update); err != nil {
		if errors.Is(err, entity.ErrOrderTerminal) || errors.Is(err, entity.ErrOrderNotFound) {
			return entity.MarkPermanent(err)
		}
		return err
	}
	order.Status = entity.OrderStatusConfirmed
	order.UpdatedAt = now

	return p.appendEvent(ctx, order, entity.OrderStatusConfirmed, entity.StatusEventPayload{Execution: &result}, now)
}

func (p *Pipeline) transition(ctx context.Context, order *entity.Order, status entity.OrderStatus, payload entity.StatusEventPayload) error {
	now := time.Now().UTC()
	if err := p.store.UpdateStatus(ctx, order.ID, status, entity.StatusUpdate{UpdatedAt: now}); err != nil {
		if errors.Is(err, entity.ErrOrderTerminal) || errors.Is(err, entity.ErrOrderNotFound) {
			return entity.MarkPermanent(err)
		}
		return err
	}
	order.Status = status
	order.UpdatedAt = now

	return p.appendEvent(ctx, order, status, payload, now)
}

// appendInfoEvent records an event at the order's current status
// without re-transitioning it.
func (p *Pipeline) appendInfoEvent(ctx context.Context, order *entity.Order, payload entity.StatusEventPayload) error {
	return p.appendEvent(ctx, order, order.Status, payload, time.Now().UTC())
}

func (p *Pipeline) appendEvent(ctx context.Context, order *entity.Order, status entity.OrderStatus, payload entity.StatusEventPayload, ts time.Time) error {
	event := &entity.StatusEvent{
		OrderID:   order.ID,
		Status:    status,
		Attempt:   order.RetryCount,
		Payload:   payload,
		CreatedAt: ts,
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	p.publisher.Publish(*event)

	return nil
}

func (p *Pipeline) venueByName(name string) (entity.Venue, error) {
	for _, v := range p.venues {
		if v.Name() == name {
			return v, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrVenueNotFound, name)
}

func normalizePipelineConfig(cfg config.PipelineConfig) config.PipelineConfig {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = defaultQuoteTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = defaultExecuteTimeout
	}
	cfg.QuoteRetry = normalizeRetryConfig(cfg.QuoteRetry, defaultQuoteRetry)
	cfg.ExecuteRetry = normalizeRetryConfig(cfg.ExecuteRetry, defaultExecuteRetry)
	if !cfg.DefaultSlippage.IsPositive() {
		cfg.DefaultSlippage = defaultSlippage
	}

	return cfg
}

// normalizeRetryConfig treats a fully zero RetryConfig as unset. An
// explicit max_retries: 0 with a base delay stays at zero retries.
func normalizeRetryConfig(cfg, fallback config.RetryConfig) config.RetryConfig {
	if cfg.MaxRetries == 0 && cfg.BaseDelay == 0 {
		return fallback
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = fallback.BaseDelay
	}

	return cfg
}
