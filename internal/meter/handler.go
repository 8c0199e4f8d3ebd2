package meter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenmeter/gateway/internal/cost"
	"github.com/tokenmeter/gateway/internal/ledger"
	"github.com/tokenmeter/gateway/internal/pricing"
	"github.com/tokenmeter/gateway/pkg/ratelimit"
)

type Handler struct {
	prices  pricing.Store
	ledger  ledger.Store
	counter cost.Counter
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(prices pricing.Store, ledgerStore ledger.Store, counter cost.Counter, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		prices:  prices,
		ledger:  ledgerStore,
		counter: counter,
		limiter: limiter,
		tracer:  tracer,
	}
}

type successResponse struct {
	Success      bool            `json:"success"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	TotalCost    decimal.Decimal `json:"totalCost"`
	NewBalance   decimal.Decimal `json:"newBalance"`
	Message      string          `json:"message"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// HandleMeter processes one metering call: validate the payload, count
// tokens, look up the model price, compute cost, then debit the user's
// ledger in one atomic unit. The response never claims success unless the
// ledger mutation committed.
func (h *Handler) HandleMeter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", ErrTypePayloadInvalid)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), ErrTypePayloadInvalid)
		return
	}

	allowed, err := h.limiter.Allow(ctx, req.User.ID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", ErrTypeRateLimited)
		return
	}

	ctx, span := h.tracer.Start(ctx, "meter.debit")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("user_id", req.User.ID),
		attribute.String("model", req.Body.Model),
	)

	price, err := h.prices.GetByID(ctx, req.Body.Model)
	if err != nil {
		if errors.Is(err, pricing.ErrPriceNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no price found for model %s", req.Body.Model), ErrTypePriceNotFound)
			return
		}
		log.Printf("meter: price lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "price lookup failed", ErrTypePersistenceFailure)
		return
	}

	contents := make([]string, len(req.Body.Messages))
	for i, m := range req.Body.Messages {
		contents[i] = m.Content
	}

	breakdown, err := cost.Compute(h.counter, contents, price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), ErrTypePayloadInvalid)
		return
	}

	nickname := req.User.Name
	if nickname == "" {
		nickname = "Unknown User"
	}

	rec, err := h.ledger.Debit(ctx, ledger.Debit{
		UserID:       req.User.ID,
		Nickname:     nickname,
		Model:        req.Body.Model,
		InputTokens:  breakdown.InputTokens,
		OutputTokens: breakdown.OutputTokens,
		Cost:         breakdown.TotalCost,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no account for user %s", req.User.ID), ErrTypeUserNotFound)
			return
		}
		log.Printf("meter: debit rolled back for user %s: %v", req.User.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to record usage", ErrTypePersistenceFailure)
		return
	}

	span.SetAttributes(
		attribute.Int("input_tokens", rec.InputTokens),
		attribute.Int("output_tokens", rec.OutputTokens),
		attribute.String("cost", rec.Cost.String()),
	)
	log.Printf("meter: user=%s model=%s input=%d output=%d cost=%s balance=%s",
		req.User.ID, req.Body.Model, rec.InputTokens, rec.OutputTokens, rec.Cost, rec.BalanceAfter)

	writeJSON(w, http.StatusOK, successResponse{
		Success:      true,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalCost:    rec.Cost,
		NewBalance:   rec.BalanceAfter,
		Message:      "usage recorded",
	})
}

// HandleUsage lists a user's usage records and total cost over a date
// range. This is the read surface the dashboard consumes.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", ErrTypePayloadInvalid)
		return
	}

	// Parse query parameters
	now := time.Now()
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)", ErrTypePayloadInvalid)
			return
		}
	}

	if toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)", ErrTypePayloadInvalid)
			return
		}
	}

	records, err := h.ledger.ListByUser(ctx, userID, from, to)
	if err != nil {
		log.Printf("meter: usage listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list usage records", ErrTypePersistenceFailure)
		return
	}

	totalCost, err := h.ledger.GetTotalCostByUser(ctx, userID, from, to)
	if err != nil {
		log.Printf("meter: total cost query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get total cost", ErrTypePersistenceFailure)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        userID,
		"total_requests": len(records),
		"total_cost":     totalCost,
		"records":        records,
		"from":           from,
		"to":             to,
	})
}

// HandleListPrices returns the price table. Maintenance of the table is
// an administrative concern; this surface is read-only.
func (h *Handler) HandleListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.prices.List(r.Context())
	if err != nil {
		log.Printf("meter: price listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list model prices", ErrTypePersistenceFailure)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": prices,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, errType string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg, ErrorType: errType})
}
