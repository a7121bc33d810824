/**
 * @description
 * This file contains the operation orchestrator: validation, submission and
 * registration for deposits, withdrawals, compounds, retries, cancellations
 * and gas estimates. The orchestrator owns no lifecycle state; once a
 * transaction is submitted it hands the record to the monitor and returns.
 *
 * @dependencies
 * - internal/domain, internal/store, internal/hub, internal/metrics: Models,
 *   persistence, fan-out and counters.
 * - pkg/chainclient: Balance reads, submission and gas estimates.
 * - github.com/shopspring/decimal: Exact token arithmetic.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/bridgefarm/yield-service/internal/domain"
	"github.com/bridgefarm/yield-service/internal/hub"
	"github.com/bridgefarm/yield-service/internal/metrics"
	"github.com/bridgefarm/yield-service/internal/store"
	"github.com/bridgefarm/yield-service/pkg/chainclient"
)

var (
	// ErrInvalidAmount is returned when the requested amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidAddress is returned when the user address is empty after normalization.
	ErrInvalidAddress = errors.New("user address is required")
	// ErrInvalidSlippage is returned when the slippage tolerance is outside the configured bounds.
	ErrInvalidSlippage = errors.New("slippage tolerance is outside the allowed range")
	// ErrInvalidOperation is returned when the operation type is not deposit, withdraw or compound.
	ErrInvalidOperation = errors.New("unknown operation type")
	// ErrInsufficientBalance is returned when the user's token balance does not cover the amount.
	ErrInsufficientBalance = errors.New("insufficient token balance for the requested amount")
	// ErrSubmissionFailed is returned when the chain rejects the transfer outright.
	ErrSubmissionFailed = errors.New("chain rejected the transfer submission")
	// ErrNoCompoundableEarnings is returned when accrued earnings are below the compound threshold.
	ErrNoCompoundableEarnings = errors.New("no compoundable earnings available")
	// ErrNotRetryable is returned when retry is requested for a transaction that has not failed.
	ErrNotRetryable = errors.New("only failed transactions can be retried")
)

// ServiceConfig carries the chain topology and validation bounds.
type ServiceConfig struct {
	HomeChain         string
	RewardChain       string
	DepositToken      string
	RewardToken       string
	CompoundThreshold decimal.Decimal
	SlippageMin       float64
	SlippageMax       float64
}

// Service validates and submits user operations, then delegates lifecycle
// tracking to the monitor.
type Service struct {
	repo     store.Repository
	chain    chainclient.ChainClient
	monitor  *Monitor
	notifier Notifier
	cfg      ServiceConfig
}

func NewService(repo store.Repository, chain chainclient.ChainClient, monitor *Monitor, notifier Notifier, cfg ServiceConfig) *Service {
	return &Service{
		repo:     repo,
		chain:    chain,
		monitor:  monitor,
		notifier: notifier,
		cfg:      cfg,
	}
}

// InitiateDeposit moves deposit tokens from the home chain into the farm on
// the reward chain. The balance check happens before any record is created.
func (s *Service) InitiateDeposit(ctx context.Context, userAddress string, amount decimal.Decimal, slippage float64) (*domain.TransactionRecord, error) {
	userID, err := s.validateRequest(userAddress, amount, slippage)
	if err != nil {
		return nil, err
	}

	balance, err := s.chain.TokenBalance(ctx, s.cfg.HomeChain, s.cfg.DepositToken, userID)
	if err != nil {
		return nil, fmt.Errorf("balance check: %w", err)
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	rec := domain.NewTransactionRecord(userID, domain.OpDeposit, amount, s.cfg.HomeChain, s.cfg.RewardChain, slippage)
	return s.submitAndTrack(ctx, rec, s.cfg.DepositToken)
}

// InitiateWithdraw moves farmed value from the reward chain back to the home
// chain.
func (s *Service) InitiateWithdraw(ctx context.Context, userAddress string, amount decimal.Decimal, slippage float64) (*domain.TransactionRecord, error) {
	userID, err := s.validateRequest(userAddress, amount, slippage)
	if err != nil {
		return nil, err
	}

	balance, err := s.chain.TokenBalance(ctx, s.cfg.RewardChain, s.cfg.RewardToken, userID)
	if err != nil {
		return nil, fmt.Errorf("balance check: %w", err)
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	rec := domain.NewTransactionRecord(userID, domain.OpWithdraw, amount, s.cfg.RewardChain, s.cfg.HomeChain, slippage)
	return s.submitAndTrack(ctx, rec, s.cfg.RewardToken)
}

// InitiateCompound reinvests accrued earnings on the reward chain. Earnings
// below the configured threshold are not worth the gas and are skipped.
func (s *Service) InitiateCompound(ctx context.Context, userAddress string, slippage float64) (*domain.TransactionRecord, error) {
	userID := domain.NormalizeUserID(userAddress)
	if userID == "" {
		return nil, ErrInvalidAddress
	}
	if err := s.validateSlippage(slippage); err != nil {
		return nil, err
	}

	earnings, err := s.chain.AvailableEarnings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("earnings check: %w", err)
	}
	if earnings.LessThan(s.cfg.CompoundThreshold) {
		return nil, ErrNoCompoundableEarnings
	}

	rec := domain.NewTransactionRecord(userID, domain.OpCompound, earnings, s.cfg.RewardChain, s.cfg.RewardChain, slippage)
	return s.submitAndTrack(ctx, rec, s.cfg.RewardToken)
}

// EstimateCost returns a gas estimate for an operation without submitting
// anything.
func (s *Service) EstimateCost(ctx context.Context, opType string, amount decimal.Decimal) (chainclient.GasEstimate, error) {
	op := domain.OperationType(opType)
	if !op.Valid() {
		return chainclient.GasEstimate{}, ErrInvalidOperation
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return chainclient.GasEstimate{}, ErrInvalidAmount
	}
	return s.chain.EstimateGas(ctx, string(op), amount)
}

// Retry resubmits a failed transaction as a brand new record linked to the
// original. The original keeps its failed status and full history.
func (s *Service) Retry(ctx context.Context, internalID string) (*domain.TransactionRecord, error) {
	orig, err := s.repo.FindTransactionByID(ctx, internalID)
	if err != nil {
		return nil, err
	}
	if orig.Status != domain.StatusFailed {
		return nil, ErrNotRetryable
	}

	rec := domain.NewTransactionRecord(orig.UserID, orig.Type, orig.Amount, orig.SourceChain, orig.DestinationChain, orig.SlippageTolerance)
	rec.RetryOf = &orig.InternalID

	token := s.cfg.DepositToken
	if orig.Type != domain.OpDeposit {
		token = s.cfg.RewardToken
	}
	return s.submitAndTrack(ctx, rec, token)
}

// Cancel stops monitoring a pending transaction. Transactions that are not in
// the active set resolve to not-found or not-cancellable via the store.
func (s *Service) Cancel(ctx context.Context, internalID string) error {
	err := s.monitor.Cancel(internalID)
	if !errors.Is(err, ErrNotActive) {
		return err
	}
	if _, ferr := s.repo.FindTransactionByID(ctx, internalID); ferr != nil {
		return ferr
	}
	return ErrNotCancellable
}

// ListTransactions returns the user's history, newest first.
func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.TransactionRecord, error) {
	return s.repo.ListTransactionsByUser(ctx, filter)
}

// FindTransaction returns a single record by internal id.
func (s *Service) FindTransaction(ctx context.Context, internalID string) (*domain.TransactionRecord, error) {
	return s.repo.FindTransactionByID(ctx, internalID)
}

// SetAutoCompound flips the wallet's auto-compound opt-in used by the
// scheduled job.
func (s *Service) SetAutoCompound(ctx context.Context, userAddress string, enabled bool) error {
	userID := domain.NormalizeUserID(userAddress)
	if userID == "" {
		return ErrInvalidAddress
	}
	if err := s.repo.EnsureWallet(ctx, userID, s.cfg.SlippageMin); err != nil {
		return err
	}
	return s.repo.SetAutoCompound(ctx, userID, enabled)
}

func (s *Service) validateRequest(userAddress string, amount decimal.Decimal, slippage float64) (string, error) {
	userID := domain.NormalizeUserID(userAddress)
	if userID == "" {
		return "", ErrInvalidAddress
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidAmount
	}
	if err := s.validateSlippage(slippage); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Service) validateSlippage(slippage float64) error {
	if slippage < s.cfg.SlippageMin || slippage > s.cfg.SlippageMax {
		return ErrInvalidSlippage
	}
	return nil
}

// submitAndTrack submits the transfer, persists the record and registers it
// with the monitor. Failures before persistence leave no trace in the store.
func (s *Service) submitAndTrack(ctx context.Context, rec *domain.TransactionRecord, token string) (*domain.TransactionRecord, error) {
	ref, err := s.chain.SubmitTransfer(ctx, chainclient.TransferRequest{
		UserAddress:      rec.UserID,
		Token:            token,
		Amount:           rec.Amount,
		SourceChain:      rec.SourceChain,
		DestinationChain: rec.DestinationChain,
		Slippage:         rec.SlippageTolerance,
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(string(rec.Type), "rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	rec.ChainTxRef = &ref

	if err := s.repo.EnsureWallet(ctx, rec.UserID, rec.SlippageTolerance); err != nil {
		log.Printf("level=warn component=service msg=\"failed to ensure wallet\" user_id=%s err=%v", rec.UserID, err)
	}
	if err := s.repo.CreateTransaction(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	s.monitor.Watch(rec)
	s.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "initiated"))
	metrics.OperationsTotal.WithLabelValues(string(rec.Type), "accepted").Inc()

	log.Printf("level=info component=service msg=\"operation accepted\" type=%s internal_id=%s user_id=%s amount=%s chain_tx_ref=%s",
		rec.Type, rec.InternalID, rec.UserID, rec.Amount.String(), ref)
	return rec, nil
}
