package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/entity"
	"github.com/dexrouter/swap-service/internal/service/scheduler"
	"github.com/dexrouter/swap-service/internal/service/statusstream"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")
)

// OrderAdmitter persists a new order in PENDING and emits its first
// status event.
type OrderAdmitter interface {
	Admit(ctx context.Context, order *entity.Order) error
	DefaultSlippage() decimal.Decimal
}

// JobEnqueuer hands an admitted order to the execution queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, orderID string) error
}

type MetricsSource interface {
	GetMetrics() scheduler.Metrics
}

type CreateOrderRequest struct {
	ApiKey            string `json:"api_key"`
	OrderID           string `json:"order_id"`
	Type              string `json:"type"`
	InputAsset        string `json:"input_asset"`
	OutputAsset       string `json:"output_asset"`
	AmountIn          string `json:"amount_in"`
	SlippageTolerance string `json:"slippage_tolerance"`
}

type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type OrderResponse struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	InputAsset        string  `json:"input_asset"`
	OutputAsset       string  `json:"output_asset"`
	AmountIn          string  `json:"amount_in"`
	SlippageTolerance string  `json:"slippage_tolerance"`
	Status            string  `json:"status"`
	Venue             *string `json:"venue,omitempty"`
	TxReference       *string `json:"tx_reference,omitempty"`
	ExecutedPrice     *string `json:"executed_price,omitempty"`
	ExecutedAmount    *string `json:"executed_amount,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	RetryCount        int     `json:"retry_count"`
	CreatedAt         int64   `json:"created_at"`
	UpdatedAt         int64   `json:"updated_at"`
}

type StatusEventResponse struct {
	OrderID   string                     `json:"order_id"`
	Sequence  int64                      `json:"sequence"`
	Status    string                     `json:"status"`
	Attempt   int                        `json:"attempt"`
	Payload   *entity.StatusEventPayload `json:"payload,omitempty"`
	CreatedAt int64                      `json:"created_at"`
}

type Handler struct {
	store    entity.OrderStore
	admitter OrderAdmitter
	enqueuer JobEnqueuer
	metrics  MetricsSource
	fanout   *statusstream.Fanout
}

func NewOrdersHTTPHandler(store entity.OrderStore, admitter OrderAdmitter, enqueuer JobEnqueuer, metrics MetricsSource, fanout *statusstream.Fanout) *Handler {
	return &Handler{
		store:    store,
		admitter: admitter,
		enqueuer: enqueuer,
		metrics:  metrics,
		fanout:   fanout,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /swap/v1/orders", h.CreateOrder)
	mux.HandleFunc("GET /swap/v1/orders", h.ListOrders)
	mux.HandleFunc("GET /swap/v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /swap/v1/orders/{id}/events", h.ListOrderEvents)
	mux.HandleFunc("GET /swap/v1/orders/{id}/stream", h.StreamOrder)
	mux.HandleFunc("GET /swap/v1/scheduler/metrics", h.SchedulerMetrics)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, &req)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.InputAsset) == "" || strings.TrimSpace(req.OutputAsset) == "" || strings.TrimSpace(req.AmountIn) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return
	}

	order, err := h.mapCreateRequestToOrder(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if err := h.admitter.Admit(r.Context(), order); err != nil {
		switch {
		case errors.Is(err, entity.ErrOrderExists):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "order already exists"})
		case errors.Is(err, entity.ErrInvalidOrder):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		}
		return
	}

	if err := h.enqueuer.Enqueue(r.Context(), order.ID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrDuplicateJob):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "order already queued"})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to queue order"})
		}
		return
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToHTTPResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	orders, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	resp := make([]*OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, mapOrderToHTTPResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": resp})
}

func (h *Handler) ListOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	if _, err := h.store.Get(r.Context(), orderID); err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	events, err := h.store.ListEvents(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	resp := make([]StatusEventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, mapStatusEventToHTTPResponse(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": resp})
}

func (h *Handler) SchedulerMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.GetMetrics())
}

func (h *Handler) mapCreateRequestToOrder(req *CreateOrderRequest) (*entity.Order, error) {
	amountIn, err := decimal.NewFromString(strings.TrimSpace(req.AmountIn))
	if err != nil {
		return nil, errors.New("invalid amount_in")
	}

	slippage := h.admitter.DefaultSlippage()
	if raw := strings.TrimSpace(req.SlippageTolerance); raw != "" {
		slippage, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.New("invalid slippage_tolerance")
		}
	}

	return &entity.Order{
		ID:                strings.TrimSpace(req.OrderID),
		Type:              entity.OrderType(strings.ToUpper(strings.TrimSpace(req.Type))),
		InputAsset:        strings.ToUpper(strings.TrimSpace(req.InputAsset)),
		OutputAsset:       strings.ToUpper(strings.TrimSpace(req.OutputAsset)),
		AmountIn:          amountIn,
		SlippageTolerance: slippage,
	}, nil
}

func mapOrderToHTTPResponse(order *entity.Order) *OrderResponse {
	var executedPrice *string
	if order.ExecutedPrice != nil {
		v := order.ExecutedPrice.String()
		executedPrice = &v
	}

	var executedAmount *string
	if order.ExecutedAmount != nil {
		v := order.ExecutedAmount.String()
		executedAmount = &v
	}

	return &OrderResponse{
		ID:                order.ID,
		Type:              string(order.Type),
		InputAsset:        order.InputAsset,
		OutputAsset:       order.OutputAsset,
		AmountIn:          order.AmountIn.String(),
		SlippageTolerance: order.SlippageTolerance.String(),
		Status:            string(order.Status),
		Venue:             null.String{NullString: order.Venue}.Ptr(),
		TxReference:       null.String{NullString: order.TxReference}.Ptr(),
		ExecutedPrice:     executedPrice,
		ExecutedAmount:    executedAmount,
		ErrorMessage:      null.String{NullString: order.ErrorMessage}.Ptr(),
		RetryCount:        order.RetryCount,
		CreatedAt:         order.CreatedAt.UnixMilli(),
		UpdatedAt:         order.UpdatedAt.UnixMilli(),
	}
}

func mapStatusEventToHTTPResponse(event entity.StatusEvent) StatusEventResponse {
	var payload *entity.StatusEventPayload
	if !event.Payload.Empty() {
		p := event.Payload
		payload = &p
	}

	return StatusEventResponse{
		OrderID:   event.OrderID,
		Sequence:  event.Sequence,
		Status:    string(event.Status),
		Attempt:   event.Attempt,
		Payload:   payload,
		CreatedAt: event.CreatedAt.UnixMilli(),
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveAPIKey(r *http.Request, req *CreateOrderRequest) string {
	if headerKey := strings.TrimSpace(r.Header.Get("X-API-Key")); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(req.ApiKey)
}

func validateAPIKey(rawAPIKey string) error {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return errAPIKeyMissing
	}

	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		return errAPIKeyInvalid
	}

	now := time.Now().UTC()
	for _, candidate := range config.Env.APIKeys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if !hasExpiry {
			return nil
		}

		if !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
