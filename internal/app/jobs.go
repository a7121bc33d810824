/**
 * @description
 * Scheduled job implementations for the yield service. The auto-compound job
 * sweeps opted-in wallets and initiates a compound for each wallet whose
 * accrued earnings clear the threshold.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bridgefarm/yield-service/internal/domain"
)

// CompoundInitiator starts a compound for one user. Satisfied by *Service.
type CompoundInitiator interface {
	InitiateCompound(ctx context.Context, userAddress string, slippage float64) (*domain.TransactionRecord, error)
}

// WalletSource lists the wallets enrolled in auto-compounding.
type WalletSource interface {
	FindAutoCompoundWallets(ctx context.Context) ([]domain.Wallet, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	wallets   WalletSource
	initiator CompoundInitiator
	logger    *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(wallets WalletSource, initiator CompoundInitiator, logger *slog.Logger) *Jobs {
	return &Jobs{
		wallets:   wallets,
		initiator: initiator,
		logger:    logger,
	}
}

// RunAutoCompound is the job that compounds earnings for every opted-in
// wallet. Wallets below the earnings threshold are skipped, and one wallet's
// failure never stops the sweep.
func (j *Jobs) RunAutoCompound() {
	j.logger.Info("starting auto-compound job")
	ctx := context.Background()

	wallets, err := j.wallets.FindAutoCompoundWallets(ctx)
	if err != nil {
		j.logger.Error("failed to list auto-compound wallets", "error", err)
		return
	}

	if len(wallets) == 0 {
		j.logger.Info("no wallets enrolled in auto-compounding")
		return
	}

	j.logger.Info("found wallets to compound", "count", len(wallets))

	initiated := 0
	skipped := 0
	for _, wallet := range wallets {
		rec, err := j.initiator.InitiateCompound(ctx, wallet.UserID, wallet.SlippageTolerance)
		if err != nil {
			if errors.Is(err, ErrNoCompoundableEarnings) {
				skipped++
				continue
			}
			j.logger.Error("failed to compound wallet", "user_id", wallet.UserID, "error", err)
			continue
		}
		initiated++
		j.logger.Info("compound initiated", "user_id", wallet.UserID, "internal_id", rec.InternalID, "amount", rec.Amount.String())
	}

	j.logger.Info("auto-compound job finished", "initiated", initiated, "skipped", skipped)
}
