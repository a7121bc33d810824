package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bridgefarm/yield-service/internal/app"
	"github.com/bridgefarm/yield-service/internal/config"
	"github.com/bridgefarm/yield-service/internal/domain"
	"github.com/bridgefarm/yield-service/internal/hub"
	"github.com/bridgefarm/yield-service/internal/store"
	"github.com/bridgefarm/yield-service/pkg/chainclient"
)

// apiRepo is a minimal in-memory store.Repository for handler tests.
type apiRepo struct {
	mu      sync.Mutex
	records map[string]*domain.TransactionRecord
	wallets map[string]*domain.Wallet
}

func newAPIRepo() *apiRepo {
	return &apiRepo{
		records: make(map[string]*domain.TransactionRecord),
		wallets: make(map[string]*domain.Wallet),
	}
}

func (r *apiRepo) CreateTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.InternalID] = &cp
	return nil
}

func (r *apiRepo) FindTransactionByID(ctx context.Context, internalID string) (*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[internalID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *apiRepo) ListTransactionsByUser(ctx context.Context, filter store.TransactionFilter) ([]domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransactionRecord
	for _, rec := range r.records {
		if rec.UserID == filter.UserID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *apiRepo) MarkMonitoringStarted(ctx context.Context, internalID string, at time.Time) error {
	return nil
}

func (r *apiRepo) UpdatePollProgress(ctx context.Context, internalID string, status domain.TransactionStatus, retryCount int, checkedAt time.Time) error {
	return nil
}

func (r *apiRepo) UpdateTransactionStatus(ctx context.Context, internalID string, params store.StatusUpdateParams) error {
	return nil
}

func (r *apiRepo) EnsureWallet(ctx context.Context, userID string, slippage float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[userID]; !ok {
		r.wallets[userID] = &domain.Wallet{UserID: userID, SlippageTolerance: slippage}
	}
	return nil
}

func (r *apiRepo) SetAutoCompound(ctx context.Context, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wallet, ok := r.wallets[userID]; ok {
		wallet.AutoCompound = enabled
	}
	return nil
}

func (r *apiRepo) FindAutoCompoundWallets(ctx context.Context) ([]domain.Wallet, error) {
	return nil, nil
}

// apiChain is a canned chain client for handler tests.
type apiChain struct {
	balance  decimal.Decimal
	earnings decimal.Decimal
}

func (c *apiChain) TokenBalance(ctx context.Context, chain, token, address string) (decimal.Decimal, error) {
	return c.balance, nil
}

func (c *apiChain) SubmitTransfer(ctx context.Context, req chainclient.TransferRequest) (string, error) {
	return "0xdeadbeef", nil
}

func (c *apiChain) TransactionStatus(ctx context.Context, chainTxRef string) (chainclient.PollResult, error) {
	return chainclient.PollResult{Status: chainclient.TxStatusPending}, nil
}

func (c *apiChain) EstimateGas(ctx context.Context, operation string, amount decimal.Decimal) (chainclient.GasEstimate, error) {
	return chainclient.GasEstimate{GasLimit: 65000, GasPriceGwei: decimal.NewFromInt(12), EstimatedCost: decimal.RequireFromString("0.00078")}, nil
}

func (c *apiChain) AvailableEarnings(ctx context.Context, userAddress string) (decimal.Decimal, error) {
	return c.earnings, nil
}

func newTestRouter(t *testing.T, repo *apiRepo, chain *apiChain) http.Handler {
	t.Helper()
	notifier := hub.New(hub.NewHMACVerifier("test-secret"))
	monitor := app.NewMonitor(repo, chain, notifier, nil, app.MonitorConfig{PollInterval: time.Hour, MaxRetries: 5})
	t.Cleanup(monitor.Shutdown)

	svc := app.NewService(repo, chain, monitor, notifier, app.ServiceConfig{
		HomeChain:         "ethereum",
		RewardChain:       "gnosis",
		DepositToken:      "EURe",
		RewardToken:       "LP-EURe",
		CompoundThreshold: decimal.RequireFromString("0.01"),
		SlippageMin:       0.1,
		SlippageMax:       5.0,
	})

	h := NewHandlers(svc, config.Config{SlippageMinPercent: 0.1, SlippageMaxPercent: 5.0})
	return Routes(h, NewWSHandler(notifier), nil, 0)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestDepositHandler_Accepted(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{balance: decimal.NewFromInt(100)})

	rr := doJSON(t, router, http.MethodPost, "/deposit", map[string]interface{}{
		"userAddress": "0xAbC",
		"amount":      "25",
		"slippage":    0.5,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp initiationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.InternalID == "" || resp.Status != "initiated" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.ChainTxRef == nil || *resp.ChainTxRef != "0xdeadbeef" {
		t.Fatalf("expected chain tx ref, got %v", resp.ChainTxRef)
	}
}

func TestDepositHandler_ValidationDetails(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{balance: decimal.NewFromInt(100)})

	rr := doJSON(t, router, http.MethodPost, "/deposit", map[string]interface{}{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", env.Error)
	}
	if env.RequestID == "" {
		t.Fatal("expected a request id in the envelope")
	}
	fields := map[string]bool{}
	for _, d := range env.Details {
		fields[d.Field] = true
	}
	if !fields["userAddress"] || !fields["amount"] {
		t.Fatalf("expected field-level details for userAddress and amount, got %+v", env.Details)
	}
}

func TestDepositHandler_InsufficientBalance(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{balance: decimal.NewFromInt(5)})

	rr := doJSON(t, router, http.MethodPost, "/deposit", map[string]interface{}{
		"userAddress": "0xabc",
		"amount":      "25",
		"slippage":    0.5,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env errorEnvelope
	json.Unmarshal(rr.Body.Bytes(), &env)
	if env.Error != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %q", env.Error)
	}
}

func TestCompoundHandler_NoEarningsIsInformational(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{earnings: decimal.RequireFromString("0.003")})

	rr := doJSON(t, router, http.MethodPost, "/compound", map[string]interface{}{
		"userAddress": "0xabc",
		"slippage":    0.5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for a below-threshold compound, got %d", rr.Code)
	}
	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["message"] != "no earnings" {
		t.Fatalf("expected no-earnings message, got %+v", resp)
	}
}

func TestEstimateHandler_RejectsUnknownType(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{})

	rr := doJSON(t, router, http.MethodPost, "/estimate", map[string]interface{}{
		"type":        "stake",
		"amount":      "10",
		"userAddress": "0xabc",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env errorEnvelope
	json.Unmarshal(rr.Body.Bytes(), &env)
	if env.Error != "invalid_operation" {
		t.Fatalf("expected invalid_operation, got %q", env.Error)
	}
}

func TestEstimateHandler_ReturnsGasFields(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{})

	rr := doJSON(t, router, http.MethodPost, "/estimate", map[string]interface{}{
		"type":        "deposit",
		"amount":      "10",
		"userAddress": "0xabc",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp estimateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if resp.GasLimit != 65000 {
		t.Fatalf("expected gas limit 65000, got %d", resp.GasLimit)
	}
}

func TestCancelHandler_UnknownTransaction(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{})

	rr := doJSON(t, router, http.MethodPost, "/transactions/cancel", map[string]interface{}{
		"transactionId": "missing",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRetryHandler_RejectsNonFailed(t *testing.T) {
	repo := newAPIRepo()
	rec := domain.NewTransactionRecord("0xabc", domain.OpDeposit, decimal.NewFromInt(10), "ethereum", "gnosis", 0.5)
	rec.Status = domain.StatusCompleted
	repo.CreateTransaction(context.Background(), rec)

	router := newTestRouter(t, repo, &apiChain{balance: decimal.NewFromInt(100)})

	rr := doJSON(t, router, http.MethodPost, "/transactions/retry", map[string]interface{}{
		"transactionId": rec.InternalID,
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestListTransactionsHandler_RequiresUserAddress(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{})

	rr := doJSON(t, router, http.MethodGet, "/transactions", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, newAPIRepo(), &apiChain{})

	rr := doJSON(t, router, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
