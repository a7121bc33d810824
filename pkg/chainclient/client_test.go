package chainclient

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSimulatedClient_PendingUntilConfirmTarget(t *testing.T) {
	c := NewSimulatedClient(WithSuccessRatio(1.0), WithConfirmTarget(2), WithSeed(1))

	ref, err := c.SubmitTransfer(context.Background(), TransferRequest{UserAddress: "0xabc", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := c.TransactionStatus(context.Background(), ref)
		if err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
		if res.Status != TxStatusPending {
			t.Fatalf("poll %d: expected pending before the confirm target, got %s", i+1, res.Status)
		}
	}

	res, err := c.TransactionStatus(context.Background(), ref)
	if err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if res.Status != TxStatusCompleted {
		t.Fatalf("expected completion with a 1.0 success ratio, got %s", res.Status)
	}
	if res.GasUsed < 21000 || res.BlockRef == "" {
		t.Fatalf("expected confirmation metadata, got %+v", res)
	}
}

func TestSimulatedClient_FailureOutcomeCarriesDetail(t *testing.T) {
	// A ratio below any possible roll makes every transfer fail.
	c := NewSimulatedClient(WithSuccessRatio(1e-12), WithConfirmTarget(0), WithSeed(7))

	ref, _ := c.SubmitTransfer(context.Background(), TransferRequest{UserAddress: "0xabc", Amount: decimal.NewFromInt(10)})
	res, err := c.TransactionStatus(context.Background(), ref)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != TxStatusFailed {
		t.Fatalf("expected failure, got %s", res.Status)
	}
	if res.ErrorDetail == "" {
		t.Fatal("expected an error detail on failure")
	}
}

func TestSimulatedClient_UnknownRefIsUnavailable(t *testing.T) {
	c := NewSimulatedClient()

	_, err := c.TransactionStatus(context.Background(), "0xnope")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSimulatedClient_PinnedBalancesAndEarnings(t *testing.T) {
	c := NewSimulatedClient()
	c.SetBalance("ethereum", "EURe", "0xabc", decimal.NewFromInt(42))
	c.SetEarnings("0xabc", decimal.RequireFromString("0.25"))

	bal, err := c.TokenBalance(context.Background(), "ethereum", "EURe", "0xabc")
	if err != nil || !bal.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected pinned balance 42, got %s err=%v", bal, err)
	}

	earnings, err := c.AvailableEarnings(context.Background(), "0xabc")
	if err != nil || !earnings.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("expected pinned earnings 0.25, got %s err=%v", earnings, err)
	}

	// Unpinned addresses fall back to the funded default.
	other, _ := c.TokenBalance(context.Background(), "ethereum", "EURe", "0xother")
	if !other.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected default balance, got %s", other)
	}
}

func TestSimulatedClient_EstimateGasPerOperation(t *testing.T) {
	c := NewSimulatedClient(WithSeed(3))

	deposit, err := c.EstimateGas(context.Background(), "deposit", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if deposit.GasLimit != 180000 {
		t.Fatalf("expected deposit gas limit 180000, got %d", deposit.GasLimit)
	}
	compound, _ := c.EstimateGas(context.Background(), "compound", decimal.NewFromInt(10))
	if compound.GasLimit != 260000 {
		t.Fatalf("expected compound gas limit 260000, got %d", compound.GasLimit)
	}
	if deposit.EstimatedCost.LessThanOrEqual(decimal.Zero) {
		t.Fatal("expected a positive estimated cost")
	}
}
