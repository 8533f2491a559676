package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/fleetpay/treasury/internal/config"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"go.uber.org/zap"
)

// KeySweeper retires expired temporary authorization keys.
type KeySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Purger deletes old ledger data one batch at a time.
type Purger interface {
	PurgeOld(ctx context.Context, cutoffAge time.Duration) (*models.PurgeProgress, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	keys    KeySweeper
	purger  Purger
	logger  *zap.Logger
	config  config.JobsConfig
	timeout time.Duration
}

func NewJobs(keys KeySweeper, purger Purger, logger *zap.Logger, cfg config.JobsConfig) *Jobs {
	return &Jobs{
		keys:    keys,
		purger:  purger,
		logger:  logger,
		config:  cfg,
		timeout: 5 * time.Minute,
	}
}

// SweepExpiredKeys nulls temporary keys whose expiry passed. Verification
// checks expiry on its own, so a missed run only delays cleanup.
func (j *Jobs) SweepExpiredKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	swept, err := j.keys.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("failed to sweep expired authorization keys", zap.Error(err))
		return
	}
	if swept > 0 {
		j.logger.Info("expired authorization keys swept", zap.Int("count", swept))
	}
}

// RunMaintenancePurge runs purge batches until the run completes, pending
// work blocks it, or the per-tick batch budget is spent. A failed batch is
// logged and the loop moves on.
func (j *Jobs) RunMaintenancePurge() {
	if !j.config.PurgeEnabled {
		return
	}
	j.logger.Info("starting maintenance purge job", zap.Duration("cutoff_age", j.config.PurgeCutoffAge))

	maxBatches := j.config.PurgeMaxBatchesTick
	if maxBatches <= 0 {
		maxBatches = 1
	}

	var failures int
	for batch := 1; batch <= maxBatches; batch++ {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		progress, err := j.purger.PurgeOld(ctx, j.config.PurgeCutoffAge)
		cancel()

		if errors.Is(err, services.ErrPendingWorkExists) {
			j.logger.Info("maintenance purge skipped", zap.Error(err))
			return
		}
		if err != nil {
			failures++
			j.logger.Error("maintenance purge batch failed", zap.Int("batch", batch), zap.Error(err))
			continue
		}
		if progress.Completed {
			j.logger.Info("maintenance purge completed",
				zap.Int64("eliminated", progress.Eliminated),
				zap.Int("batches", batch),
				zap.Int("failed_batches", failures))
			return
		}
	}

	j.logger.Info("maintenance purge job finished for this tick", zap.Int("failed_batches", failures))
}
