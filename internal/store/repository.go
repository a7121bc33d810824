/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access required by the yield-service. The business logic only depends on
 * this interface, which keeps it testable with hand-written stubs and
 * decoupled from PostgreSQL specifics.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/bridgefarm/yield-service/internal/domain"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	// ErrAlreadyTerminal is returned when a status update targets a record
	// that has already reached a terminal state.
	ErrAlreadyTerminal = errors.New("transaction already in a terminal state")
)

// StatusUpdateParams carries the mutable fields written on a state transition.
// Nil pointers leave the column untouched.
type StatusUpdateParams struct {
	Status        domain.TransactionStatus
	ErrorDetail   *string
	GasUsed       *int64
	BlockRef      *string
	Confirmations *int
	CompletedAt   *time.Time
}

// TransactionFilter narrows history queries.
type TransactionFilter struct {
	UserID string
	Status *domain.TransactionStatus
	Type   *domain.OperationType
	Limit  int
	Offset int
}

// Repository defines the set of methods for interacting with durable storage.
type Repository interface {
	CreateTransaction(ctx context.Context, rec *domain.TransactionRecord) error
	FindTransactionByID(ctx context.Context, internalID string) (*domain.TransactionRecord, error)
	ListTransactionsByUser(ctx context.Context, filter TransactionFilter) ([]domain.TransactionRecord, error)

	// MarkMonitoringStarted records the start of a monitoring session.
	MarkMonitoringStarted(ctx context.Context, internalID string, at time.Time) error
	// UpdatePollProgress records a non-terminal poll: retry counter, the
	// possible monitoring->pending hop, and the checked-at timestamp.
	UpdatePollProgress(ctx context.Context, internalID string, status domain.TransactionStatus, retryCount int, checkedAt time.Time) error
	// UpdateTransactionStatus applies a transition. It must refuse to touch a
	// record that is already terminal (ErrAlreadyTerminal).
	UpdateTransactionStatus(ctx context.Context, internalID string, params StatusUpdateParams) error

	EnsureWallet(ctx context.Context, userID string, slippage float64) error
	SetAutoCompound(ctx context.Context, userID string, enabled bool) error
	FindAutoCompoundWallets(ctx context.Context) ([]domain.Wallet, error)
}
