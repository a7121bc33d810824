/**
 * @description
 * This file defines the lifecycle event payloads emitted by the yield-service.
 * Transaction events are pushed to subscribed WebSocket clients and mirrored to
 * the message broker so downstream consumers (balance recomputation, analytics)
 * can react without polling.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionEvent is the payload of every transaction:update push. Kind tells
// subscribers which lifecycle edge produced the event.
type TransactionEvent struct {
	InternalID    string            `json:"internal_id"`
	ChainTxRef    *string           `json:"chain_tx_ref,omitempty"`
	UserID        string            `json:"user_id"`
	Type          OperationType     `json:"type"`
	Kind          string            `json:"kind"` // initiated|progress|completed|failed|timeout|cancelled
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	RetryCount    int               `json:"retry_count"`
	GasUsed       *int64            `json:"gas_used,omitempty"`
	BlockRef      *string           `json:"block_ref,omitempty"`
	Confirmations *int              `json:"confirmations,omitempty"`
	ErrorDetail   *string           `json:"error_detail,omitempty"`
	ElapsedMs     int64             `json:"elapsed_ms,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// BalanceRefreshEvent signals that a user's balances should be recomputed. It
// is fire-and-forget: the sender never waits for consumers.
type BalanceRefreshEvent struct {
	UserID     string    `json:"user_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserNotification is a human-readable message pushed to one user.
type UserNotification struct {
	Level      string    `json:"level"` // info|success|error|warning
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTransactionEvent derives an event from the record's current state.
func NewTransactionEvent(rec *TransactionRecord, kind string) TransactionEvent {
	ev := TransactionEvent{
		InternalID:    rec.InternalID,
		ChainTxRef:    rec.ChainTxRef,
		UserID:        rec.UserID,
		Type:          rec.Type,
		Kind:          kind,
		Status:        rec.Status,
		Amount:        rec.Amount,
		RetryCount:    rec.RetryCount,
		GasUsed:       rec.GasUsed,
		BlockRef:      rec.BlockRef,
		Confirmations: rec.Confirmations,
		ErrorDetail:   rec.ErrorDetail,
		OccurredAt:    time.Now().UTC(),
	}
	if rec.CompletedAt != nil && rec.StartedMonitoringAt != nil {
		ev.ElapsedMs = rec.CompletedAt.Sub(*rec.StartedMonitoringAt).Milliseconds()
	}
	return ev
}
