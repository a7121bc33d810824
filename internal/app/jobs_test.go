package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bridgefarm/yield-service/internal/domain"
)

type walletSourceStub struct {
	wallets []domain.Wallet
	err     error
}

func (s *walletSourceStub) FindAutoCompoundWallets(ctx context.Context) ([]domain.Wallet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.wallets, nil
}

type initiatorStub struct {
	mu       sync.Mutex
	calls    []string
	belowFor map[string]bool
	failFor  map[string]bool
}

func (s *initiatorStub) InitiateCompound(ctx context.Context, userAddress string, slippage float64) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userAddress)
	if s.belowFor[userAddress] {
		return nil, ErrNoCompoundableEarnings
	}
	if s.failFor[userAddress] {
		return nil, errors.New("submission rejected")
	}
	return domain.NewTransactionRecord(userAddress, domain.OpCompound, decimal.NewFromInt(1), "gnosis", "gnosis", slippage), nil
}

func newTestJobs(wallets WalletSource, initiator CompoundInitiator) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(wallets, initiator, logger)
}

func TestRunAutoCompound_SweepsEnrolledWallets(t *testing.T) {
	wallets := &walletSourceStub{wallets: []domain.Wallet{
		{UserID: "0xaaa", AutoCompound: true, SlippageTolerance: 0.5},
		{UserID: "0xbbb", AutoCompound: true, SlippageTolerance: 1.0},
	}}
	initiator := &initiatorStub{}
	jobs := newTestJobs(wallets, initiator)

	jobs.RunAutoCompound()

	if len(initiator.calls) != 2 {
		t.Fatalf("expected both wallets to be processed, got %v", initiator.calls)
	}
}

func TestRunAutoCompound_SkipsWalletsBelowThreshold(t *testing.T) {
	wallets := &walletSourceStub{wallets: []domain.Wallet{
		{UserID: "0xaaa", AutoCompound: true},
		{UserID: "0xbbb", AutoCompound: true},
	}}
	initiator := &initiatorStub{belowFor: map[string]bool{"0xaaa": true}}
	jobs := newTestJobs(wallets, initiator)

	jobs.RunAutoCompound()

	if len(initiator.calls) != 2 {
		t.Fatalf("a skipped wallet must not stop the sweep, got %v", initiator.calls)
	}
}

func TestRunAutoCompound_ContinuesAfterWalletError(t *testing.T) {
	wallets := &walletSourceStub{wallets: []domain.Wallet{
		{UserID: "0xaaa", AutoCompound: true},
		{UserID: "0xbbb", AutoCompound: true},
	}}
	initiator := &initiatorStub{failFor: map[string]bool{"0xaaa": true}}
	jobs := newTestJobs(wallets, initiator)

	jobs.RunAutoCompound()

	if len(initiator.calls) != 2 {
		t.Fatalf("one wallet's failure must not stop the sweep, got %v", initiator.calls)
	}
}

func TestRunAutoCompound_HandlesListError(t *testing.T) {
	wallets := &walletSourceStub{err: errors.New("db unavailable")}
	initiator := &initiatorStub{}
	jobs := newTestJobs(wallets, initiator)

	jobs.RunAutoCompound()

	if len(initiator.calls) != 0 {
		t.Fatalf("no compounds should run when listing fails, got %v", initiator.calls)
	}
}
