/**
 * @description
 * This file defines the core domain models for the yield-service. These structs
 * represent the entities used throughout the business logic, the database layer,
 * and the API surface.
 *
 * @notes
 * - Token amounts are represented as `decimal.Decimal` to avoid floating-point
 *   drift when working with 18-decimal token units.
 * - A transaction's `Status` only ever moves forward: monitoring -> pending ->
 *   one of the terminal states. Terminal records are never mutated again.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType identifies the kind of user-initiated operation.
type OperationType string

const (
	OpDeposit  OperationType = "deposit"
	OpWithdraw OperationType = "withdraw"
	OpCompound OperationType = "compound"
)

// Valid reports whether the operation type is one of the supported values.
func (t OperationType) Valid() bool {
	switch t {
	case OpDeposit, OpWithdraw, OpCompound:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a monitored transaction.
type TransactionStatus string

const (
	StatusMonitoring TransactionStatus = "monitoring"
	StatusPending    TransactionStatus = "pending"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusTimeout    TransactionStatus = "timeout"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Valid reports whether the status is one of the lifecycle states.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusMonitoring, StatusPending, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition can occur.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// rank orders statuses so transitions can be checked for monotonicity:
// monitoring < pending < terminal.
func (s TransactionStatus) rank() int {
	switch s {
	case StatusMonitoring:
		return 0
	case StatusPending:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic. Nothing transitions out of a terminal state.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// TransactionRecord represents one user-initiated operation. It is created by
// the orchestrator at submission time, mutated exclusively by the monitor during
// polling, and becomes immutable once a terminal status is reached.
type TransactionRecord struct {
	InternalID          string            `json:"internal_id"`
	ChainTxRef          *string           `json:"chain_tx_ref,omitempty"`
	UserID              string            `json:"user_id"`
	Type                OperationType     `json:"type"`
	Amount              decimal.Decimal   `json:"amount"`
	SourceChain         string            `json:"source_chain"`
	DestinationChain    string            `json:"destination_chain"`
	SlippageTolerance   float64           `json:"slippage_tolerance"`
	Status              TransactionStatus `json:"status"`
	RetryCount          int               `json:"retry_count"`
	LastCheckedAt       *time.Time        `json:"last_checked_at,omitempty"`
	ErrorDetail         *string           `json:"error_detail,omitempty"`
	GasUsed             *int64            `json:"gas_used,omitempty"`
	BlockRef            *string           `json:"block_ref,omitempty"`
	Confirmations       *int              `json:"confirmations,omitempty"`
	RetryOf             *string           `json:"retry_of,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedMonitoringAt *time.Time        `json:"started_monitoring_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// NewTransactionRecord builds a fresh record in the monitoring state with a
// generated internal id. The user id is case-normalized so a checksummed and a
// lowercased address refer to the same owner.
func NewTransactionRecord(userID string, op OperationType, amount decimal.Decimal, sourceChain, destinationChain string, slippage float64) *TransactionRecord {
	return &TransactionRecord{
		InternalID:        uuid.New().String(),
		UserID:            NormalizeUserID(userID),
		Type:              op,
		Amount:            amount,
		SourceChain:       sourceChain,
		DestinationChain:  destinationChain,
		SlippageTolerance: slippage,
		Status:            StatusMonitoring,
		CreatedAt:         time.Now().UTC(),
	}
}

// NormalizeUserID lowercases and trims an on-chain address so it can be used as
// a stable owner key.
func NormalizeUserID(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// Wallet is the durable per-user record of yield-farming preferences.
type Wallet struct {
	UserID            string    `json:"user_id"`
	AutoCompound      bool      `json:"auto_compound"`
	SlippageTolerance float64   `json:"slippage_tolerance"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
