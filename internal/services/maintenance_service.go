package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"go.uber.org/zap"
)

const defaultPurgeBatchSize = 500

// Ledger rows a purge may delete: resolved, and top-ups only once closed or rejected.
const purgeableEntries = `
	created_at < $1
	AND status <> $2
	AND (kind <> $3 OR status = $4 OR closing_id IS NOT NULL)`

// MaintenanceService deletes old ledger and closing rows in resumable batches.
type MaintenanceService struct {
	db        *sql.DB
	trips     TripStats
	batchSize int
	deps      Dependencies
}

func NewMaintenanceService(db *sql.DB, trips TripStats, batchSize int, deps Dependencies) *MaintenanceService {
	if trips == nil {
		trips = SQLTripStats{}
	}
	if batchSize <= 0 {
		batchSize = defaultPurgeBatchSize
	}
	return &MaintenanceService{
		db:        db,
		trips:     trips,
		batchSize: batchSize,
		deps:      deps.withDefaults(),
	}
}

// PurgeOld deletes one batch of rows older than cutoffAge and returns the
// updated progress. A run whose cutoff age matches an unfinished snapshot
// resumes against the same cutoff instant.
func (s *MaintenanceService) PurgeOld(ctx context.Context, cutoffAge time.Duration) (*models.PurgeProgress, error) {
	progress, err := s.purgeBatch(ctx, cutoffAge)
	if err != nil && !errors.Is(err, ErrPendingWorkExists) && !errors.Is(err, ErrInvalidInput) {
		s.deps.Metrics.RecordPurgeBatch(0, 0, false)
	}
	return progress, err
}

func (s *MaintenanceService) purgeBatch(ctx context.Context, cutoffAge time.Duration) (*models.PurgeProgress, error) {
	if cutoffAge < time.Second {
		return nil, fmt.Errorf("%w: cutoff age must be at least one second", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	// Shares the closing lock so no row disappears under a running closing.
	if err := lockClosings(ctx, tx); err != nil {
		return nil, err
	}

	if err := s.checkNoPendingWork(ctx, tx); err != nil {
		return nil, err
	}

	now := s.deps.Now()
	ageSeconds := int64(cutoffAge / time.Second)
	progress, err := loadProgress(ctx, tx, true)
	if err != nil {
		return nil, err
	}
	if progress == nil || progress.Completed || progress.CutoffAgeSeconds != ageSeconds {
		progress = &models.PurgeProgress{
			Cutoff:           now.Add(-cutoffAge),
			CutoffAgeSeconds: ageSeconds,
			StartedAt:        now,
		}
	}

	entryArgs := []any{progress.Cutoff, models.StatusPending, models.KindTopupRequest, models.StatusRejected}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM ledger_entries
		WHERE id IN (
			SELECT id FROM ledger_entries
			WHERE `+purgeableEntries+`
			ORDER BY id
			LIMIT $5
		)`, append(entryArgs, s.batchSize)...)
	if err != nil {
		return nil, fmt.Errorf("purge entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if budget := int64(s.batchSize) - deleted; budget > 0 {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM closings
			WHERE id IN (
				SELECT c.id FROM closings c
				WHERE c.created_at < $1
					AND NOT EXISTS (SELECT 1 FROM ledger_entries e WHERE e.closing_id = c.id)
				ORDER BY c.id
				LIMIT $2
			)`, progress.Cutoff, budget)
		if err != nil {
			return nil, fmt.Errorf("purge closings: %w", err)
		}
		closings, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		deleted += closings
	}

	var remaining int64
	if err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM ledger_entries WHERE `+purgeableEntries+`) +
			(SELECT COUNT(*) FROM closings WHERE created_at < $1)`,
		entryArgs...).Scan(&remaining); err != nil {
		return nil, fmt.Errorf("count remaining: %w", err)
	}

	progress.Eliminated += deleted
	progress.Remaining = remaining
	progress.Completed = remaining == 0
	progress.UpdatedAt = now
	progress.ComputePercent()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_progress (id, cutoff, cutoff_age_seconds, eliminated, remaining, completed, started_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			cutoff = EXCLUDED.cutoff,
			cutoff_age_seconds = EXCLUDED.cutoff_age_seconds,
			eliminated = EXCLUDED.eliminated,
			remaining = EXCLUDED.remaining,
			completed = EXCLUDED.completed,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`,
		progress.Cutoff, progress.CutoffAgeSeconds, progress.Eliminated, progress.Remaining,
		progress.Completed, progress.StartedAt, progress.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save purge progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.deps.Metrics.RecordPurgeBatch(deleted, progress.Percent, true)
	s.deps.Audit.LogOperation("PURGE_BATCH", "system", "maintenance", map[string]string{
		"deleted":   fmt.Sprint(deleted),
		"remaining": fmt.Sprint(remaining),
		"cutoff":    progress.Cutoff.Format(time.RFC3339),
	})
	s.deps.Log.Info("purge batch finished",
		zap.Int64("deleted", deleted),
		zap.Int64("remaining", remaining),
		zap.Float64("percent", progress.Percent),
		zap.Bool("completed", progress.Completed))
	return progress, nil
}

func (s *MaintenanceService) checkNoPendingWork(ctx context.Context, q Querier) error {
	var pending, unclosed int
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3 AND closing_id IS NULL)
		FROM ledger_entries
		WHERE kind = $1`,
		models.KindTopupRequest, models.StatusPending, models.StatusApproved).Scan(&pending, &unclosed)
	if err != nil {
		return fmt.Errorf("count pending work: %w", err)
	}

	tickets, err := s.trips.CountUnresolvedTickets(ctx, q)
	if err != nil {
		return err
	}

	if pending > 0 || unclosed > 0 || tickets > 0 {
		return fmt.Errorf("%w: %d pending requests, %d unclosed entries, %d unresolved tickets",
			ErrPendingWorkExists, pending, unclosed, tickets)
	}
	return nil
}

// Progress returns the last persisted purge snapshot. Before any run it is
// an empty, not completed snapshot.
func (s *MaintenanceService) Progress(ctx context.Context) (*models.PurgeProgress, error) {
	progress, err := loadProgress(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		return &models.PurgeProgress{}, nil
	}
	return progress, nil
}

func loadProgress(ctx context.Context, q Querier, forUpdate bool) (*models.PurgeProgress, error) {
	query := `
		SELECT cutoff, cutoff_age_seconds, eliminated, remaining, completed, started_at, updated_at
		FROM maintenance_progress
		WHERE id = 1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p models.PurgeProgress
	err := q.QueryRowContext(ctx, query).Scan(&p.Cutoff, &p.CutoffAgeSeconds, &p.Eliminated, &p.Remaining,
		&p.Completed, &p.StartedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load purge progress: %w", err)
	}
	p.ComputePercent()
	return &p, nil
}
