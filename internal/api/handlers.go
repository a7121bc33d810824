/**
 * @description
 * This file contains the HTTP handlers for the yield-service API. Handlers
 * parse and validate incoming requests, call the orchestrator, and translate
 * its sentinel errors into the HTTP error envelope. They are the bridge
 * between the web layer and the business logic layer; no lifecycle logic
 * lives here.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: Request id retrieval from the middleware chain.
 * - github.com/shopspring/decimal: Exact amounts in request bodies.
 * - internal/app, internal/domain, internal/store, pkg/chainclient: Service
 *   logic, models and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/bridgefarm/yield-service/internal/app"
	"github.com/bridgefarm/yield-service/internal/config"
	"github.com/bridgefarm/yield-service/internal/domain"
	"github.com/bridgefarm/yield-service/internal/store"
	"github.com/bridgefarm/yield-service/pkg/chainclient"
)

// Handlers holds the application service and config that handlers use.
type Handlers struct {
	service *app.Service
	cfg     config.Config
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, cfg config.Config) *Handlers {
	return &Handlers{service: service, cfg: cfg}
}

type operationRequest struct {
	UserAddress string          `json:"userAddress"`
	Amount      decimal.Decimal `json:"amount"`
	Slippage    float64         `json:"slippage"`
}

type compoundRequest struct {
	UserAddress string  `json:"userAddress"`
	Slippage    float64 `json:"slippage"`
}

type estimateRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	UserAddress string          `json:"userAddress"`
}

type transactionActionRequest struct {
	TransactionID string `json:"transactionId"`
}

type autoCompoundRequest struct {
	UserAddress string `json:"userAddress"`
	Enabled     bool   `json:"enabled"`
}

// initiationResponse is returned by every accepted operation. The client
// tracks progress over the real-time channel using internalId.
type initiationResponse struct {
	InternalID string  `json:"internalId"`
	ChainTxRef *string `json:"chainTxRef"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
}

type estimateResponse struct {
	GasLimit      int64           `json:"gasLimit"`
	GasPrice      decimal.Decimal `json:"gasPrice"`
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
}

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error     string        `json:"error"`
	Message   string        `json:"message"`
	Details   []fieldDetail `json:"details,omitempty"`
	RequestID string        `json:"requestId"`
	Timestamp time.Time     `json:"timestamp"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string, details ...fieldDetail) {
	h.writeJSON(w, status, errorEnvelope{
		Error:     kind,
		Message:   message,
		Details:   details,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// mapServiceError translates the orchestrator's sentinel errors into HTTP
// statuses. Anything unrecognized is an unhandled fault.
func (h *Handlers) mapServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, r, http.StatusBadRequest, "invalid_amount", "Amount must be greater than zero.")
	case errors.Is(err, app.ErrInvalidAddress):
		h.writeError(w, r, http.StatusBadRequest, "invalid_address", "A user address is required.")
	case errors.Is(err, app.ErrInvalidSlippage):
		h.writeError(w, r, http.StatusBadRequest, "invalid_slippage", "Slippage tolerance is outside the allowed range.")
	case errors.Is(err, app.ErrInvalidOperation):
		h.writeError(w, r, http.StatusBadRequest, "invalid_operation", "Operation type must be deposit, withdraw or compound.")
	case errors.Is(err, app.ErrInsufficientBalance):
		h.writeError(w, r, http.StatusBadRequest, "insufficient_balance", "Token balance does not cover the requested amount.")
	case errors.Is(err, app.ErrNotRetryable):
		h.writeError(w, r, http.StatusConflict, "not_retryable", "Only failed transactions can be retried.")
	case errors.Is(err, app.ErrNotCancellable):
		h.writeError(w, r, http.StatusConflict, "not_cancellable", "Only pending transactions can be cancelled.")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", "Transaction not found.")
	case errors.Is(err, app.ErrSubmissionFailed):
		h.writeError(w, r, http.StatusBadGateway, "submission_failed", "The chain rejected the transfer submission.")
	case errors.Is(err, chainclient.ErrUnavailable):
		h.writeError(w, r, http.StatusServiceUnavailable, "upstream_unavailable", "Chain backend is unavailable, try again later.")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" request_id=%s err=%v", middleware.GetReqID(r.Context()), err)
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred.")
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON.")
		return false
	}
	return true
}

// validateOperation performs field-level structural validation so the client
// gets every problem in one response instead of one at a time.
func (h *Handlers) validateOperation(req operationRequest) []fieldDetail {
	var details []fieldDetail
	if domain.NormalizeUserID(req.UserAddress) == "" {
		details = append(details, fieldDetail{Field: "userAddress", Message: "required"})
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		details = append(details, fieldDetail{Field: "amount", Message: "must be greater than zero"})
	}
	if req.Slippage < h.cfg.SlippageMinPercent || req.Slippage > h.cfg.SlippageMaxPercent {
		details = append(details, fieldDetail{Field: "slippage", Message: "outside the allowed range"})
	}
	return details
}

// DepositHandler accepts a cross-chain deposit and returns 202 immediately;
// the terminal outcome arrives over the real-time channel.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if details := h.validateOperation(req); len(details) > 0 {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.", details...)
		return
	}

	rec, err := h.service.InitiateDeposit(r.Context(), req.UserAddress, req.Amount, req.Slippage)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, initiationResponse{
		InternalID: rec.InternalID,
		ChainTxRef: rec.ChainTxRef,
		Status:     "initiated",
		Message:    "Deposit submitted; monitoring started.",
	})
}

// WithdrawHandler is symmetric to DepositHandler on the reward chain.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if details := h.validateOperation(req); len(details) > 0 {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.", details...)
		return
	}

	rec, err := h.service.InitiateWithdraw(r.Context(), req.UserAddress, req.Amount, req.Slippage)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, initiationResponse{
		InternalID: rec.InternalID,
		ChainTxRef: rec.ChainTxRef,
		Status:     "initiated",
		Message:    "Withdrawal submitted; monitoring started.",
	})
}

// CompoundHandler reinvests accrued earnings. Earnings below the threshold
// are an informational no-op, not an error.
func (h *Handlers) CompoundHandler(w http.ResponseWriter, r *http.Request) {
	var req compoundRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.service.InitiateCompound(r.Context(), req.UserAddress, req.Slippage)
	if errors.Is(err, app.ErrNoCompoundableEarnings) {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "no earnings"})
		return
	}
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, initiationResponse{
		InternalID: rec.InternalID,
		ChainTxRef: rec.ChainTxRef,
		Status:     "initiated",
		Message:    "Compound submitted; monitoring started.",
	})
}

// EstimateHandler prices an operation. Pure read, no record is created.
func (h *Handlers) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !h.decode(w, r, &req) {
		return
	}

	est, err := h.service.EstimateCost(r.Context(), req.Type, req.Amount)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, estimateResponse{
		GasLimit:      est.GasLimit,
		GasPrice:      est.GasPriceGwei,
		EstimatedCost: est.EstimatedCost,
	})
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ListTransactionsHandler returns the user's paginated history, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userAddress := domain.NormalizeUserID(r.URL.Query().Get("userAddress"))
	if userAddress == "" {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
			fieldDetail{Field: "userAddress", Message: "required"})
		return
	}

	filter := store.TransactionFilter{UserID: userAddress, Limit: defaultHistoryLimit}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.TransactionStatus(raw)
		if !status.Valid() {
			h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
				fieldDetail{Field: "status", Message: "unknown status"})
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		opType := domain.OperationType(raw)
		if !opType.Valid() {
			h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
				fieldDetail{Field: "type", Message: "unknown operation type"})
			return
		}
		filter.Type = &opType
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	recs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": recs,
		"count":        len(recs),
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

// GetTransactionHandler returns a single record by internal id.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	internalID := r.URL.Query().Get("id")
	if internalID == "" {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
			fieldDetail{Field: "id", Message: "required"})
		return
	}
	rec, err := h.service.FindTransaction(r.Context(), internalID)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// RetryHandler resubmits a failed transaction under a new internal id.
func (h *Handlers) RetryHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
			fieldDetail{Field: "transactionId", Message: "required"})
		return
	}

	rec, err := h.service.Retry(r.Context(), req.TransactionID)
	if err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, initiationResponse{
		InternalID: rec.InternalID,
		ChainTxRef: rec.ChainTxRef,
		Status:     "initiated",
		Message:    "Retry submitted; monitoring started.",
	})
}

// CancelHandler stops monitoring a pending transaction.
func (h *Handlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed.",
			fieldDetail{Field: "transactionId", Message: "required"})
		return
	}

	if err := h.service.Cancel(r.Context(), req.TransactionID); err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction cancelled; monitoring stopped."})
}

// AutoCompoundHandler flips the wallet's enrolment in the scheduled
// auto-compound sweep.
func (h *Handlers) AutoCompoundHandler(w http.ResponseWriter, r *http.Request) {
	var req autoCompoundRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.SetAutoCompound(r.Context(), req.UserAddress, req.Enabled); err != nil {
		h.mapServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Auto-compound preference updated.",
		"enabled": req.Enabled,
	})
}
