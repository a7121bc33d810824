/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Holds every SQL
 * query touching the transactions and wallets tables.
 *
 * Terminal records are guarded at the SQL level: status updates carry a
 * predicate that excludes rows already in a terminal state, so a late or
 * replayed transition can never overwrite a finished transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bridgefarm/yield-service/internal/domain"
)

// PostgresRepository is a concrete implementation of Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const terminalStatusPredicate = `status NOT IN ('completed','failed','timeout','cancelled')`

// EnsureSchema creates the tables this service owns if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			internal_id           uuid PRIMARY KEY,
			chain_tx_ref          text,
			user_id               text NOT NULL,
			type                  text NOT NULL,
			amount                numeric(38, 18) NOT NULL,
			source_chain          text NOT NULL,
			destination_chain     text NOT NULL,
			slippage_tolerance    double precision NOT NULL,
			status                text NOT NULL,
			retry_count           integer NOT NULL DEFAULT 0,
			last_checked_at       timestamptz,
			error_detail          text,
			gas_used              bigint,
			block_ref             text,
			confirmations         integer,
			retry_of              uuid,
			created_at            timestamptz NOT NULL,
			started_monitoring_at timestamptz,
			completed_at          timestamptz
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_created
			ON transactions (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS wallets (
			user_id            text PRIMARY KEY,
			auto_compound      boolean NOT NULL DEFAULT false,
			slippage_tolerance double precision NOT NULL DEFAULT 0.5,
			created_at         timestamptz NOT NULL,
			updated_at         timestamptz NOT NULL
		);
	`)
	return err
}

const transactionColumns = `internal_id, chain_tx_ref, user_id, type, amount, source_chain,
	destination_chain, slippage_tolerance, status, retry_count, last_checked_at,
	error_detail, gas_used, block_ref, confirmations, retry_of, created_at,
	started_monitoring_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	err := row.Scan(
		&rec.InternalID,
		&rec.ChainTxRef,
		&rec.UserID,
		&rec.Type,
		&rec.Amount,
		&rec.SourceChain,
		&rec.DestinationChain,
		&rec.SlippageTolerance,
		&rec.Status,
		&rec.RetryCount,
		&rec.LastCheckedAt,
		&rec.ErrorDetail,
		&rec.GasUsed,
		&rec.BlockRef,
		&rec.Confirmations,
		&rec.RetryOf,
		&rec.CreatedAt,
		&rec.StartedMonitoringAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateTransaction persists a freshly created record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`
	_, err := r.db.Exec(ctx, query,
		rec.InternalID, rec.ChainTxRef, rec.UserID, rec.Type, rec.Amount,
		rec.SourceChain, rec.DestinationChain, rec.SlippageTolerance, rec.Status,
		rec.RetryCount, rec.LastCheckedAt, rec.ErrorDetail, rec.GasUsed,
		rec.BlockRef, rec.Confirmations, rec.RetryOf, rec.CreatedAt,
		rec.StartedMonitoringAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// FindTransactionByID loads one record by internal id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, internalID string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE internal_id = $1`
	rec, err := scanTransaction(r.db.QueryRow(ctx, query, internalID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListTransactionsByUser returns a page of a user's history, newest first.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, filter TransactionFilter) ([]domain.TransactionRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`)
	args := []interface{}{domain.NormalizeUserID(filter.UserID)}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MarkMonitoringStarted stamps the start of a monitoring session.
func (r *PostgresRepository) MarkMonitoringStarted(ctx context.Context, internalID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET started_monitoring_at = $2 WHERE internal_id = $1 AND `+terminalStatusPredicate,
		internalID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// UpdatePollProgress records a non-terminal poll.
func (r *PostgresRepository) UpdatePollProgress(ctx context.Context, internalID string, status domain.TransactionStatus, retryCount int, checkedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, retry_count = $3, last_checked_at = $4
		WHERE internal_id = $1 AND `+terminalStatusPredicate,
		internalID, status, retryCount, checkedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// UpdateTransactionStatus applies a transition; rows already terminal are left
// untouched and reported as ErrAlreadyTerminal.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, internalID string, params StatusUpdateParams) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2,
		    error_detail = COALESCE($3, error_detail),
		    gas_used = COALESCE($4, gas_used),
		    block_ref = COALESCE($5, block_ref),
		    confirmations = COALESCE($6, confirmations),
		    completed_at = COALESCE($7, completed_at)
		WHERE internal_id = $1 AND `+terminalStatusPredicate,
		internalID, params.Status, params.ErrorDetail, params.GasUsed,
		params.BlockRef, params.Confirmations, params.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// EnsureWallet creates the wallet row on first contact with a user.
func (r *PostgresRepository) EnsureWallet(ctx context.Context, userID string, slippage float64) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (user_id, auto_compound, slippage_tolerance, created_at, updated_at)
		VALUES ($1, false, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET slippage_tolerance = EXCLUDED.slippage_tolerance, updated_at = EXCLUDED.updated_at
	`, domain.NormalizeUserID(userID), slippage, now)
	return err
}

// SetAutoCompound flips the auto-compound opt-in flag for a wallet.
func (r *PostgresRepository) SetAutoCompound(ctx context.Context, userID string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE wallets SET auto_compound = $2, updated_at = $3 WHERE user_id = $1`,
		domain.NormalizeUserID(userID), enabled, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// FindAutoCompoundWallets lists wallets that opted into scheduled compounding.
func (r *PostgresRepository) FindAutoCompoundWallets(ctx context.Context) ([]domain.Wallet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, auto_compound, slippage_tolerance, created_at, updated_at
		FROM wallets WHERE auto_compound = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.UserID, &w.AutoCompound, &w.SlippageTolerance, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
