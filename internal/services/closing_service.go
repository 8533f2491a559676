package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetpay/treasury/internal/events"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// closingLockKey is the advisory lock shared by closings, lifecycle changes and purges.
const closingLockKey int64 = 7_264_001

const closingColumns = `id, closing_date, sequence, performed_by, system_total, counted_total, difference, request_count, approved_count, trip_count, includes_prior_dates, earliest_entry_at, note, status, adjustment_amount, adjustment_note, status_changed_by, status_changed_at, created_at`

var closingSortColumns = map[string]string{
	"id":          "id",
	"closingDate": "closing_date",
	"createdAt":   "created_at",
	"systemTotal": "system_total",
}

type PerformClosingRequest struct {
	CountedAmount decimal.Decimal
	AuthSecret    string
	Principal     models.Principal
	Note          string
}

// ClosingService sweeps approved, unclosed top-ups into immutable closings.
type ClosingService struct {
	db     *sql.DB
	ledger *LedgerService
	keys   *AuthKeyService
	trips  TripStats
	cache  ClosingCache
	loc    *time.Location
	deps   Dependencies
}

func NewClosingService(db *sql.DB, ledger *LedgerService, keys *AuthKeyService, trips TripStats, cache ClosingCache, loc *time.Location, deps Dependencies) *ClosingService {
	if trips == nil {
		trips = SQLTripStats{}
	}
	if cache == nil {
		cache = noopClosingCache{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ClosingService{
		db:     db,
		ledger: ledger,
		keys:   keys,
		trips:  trips,
		cache:  cache,
		loc:    loc,
		deps:   deps.withDefaults(),
	}
}

func lockClosings(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, closingLockKey); err != nil {
		return fmt.Errorf("acquire closing lock: %w", err)
	}
	return nil
}

// PerformClosing verifies the key and closes every approved top-up not yet in a
// closing, of any date. Either the closing and all its entry marks commit, or nothing does.
func (s *ClosingService) PerformClosing(ctx context.Context, req PerformClosingRequest) (*models.ClosingResult, error) {
	started := time.Now()
	counted := req.CountedAmount
	if counted.IsNegative() || !counted.Equal(counted.Round(2)) {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := lockClosings(ctx, tx); err != nil {
		return nil, err
	}

	if err := s.keys.VerifyTx(ctx, tx, req.AuthSecret, req.Principal.ID); err != nil {
		return nil, err
	}

	entries, err := s.ledger.QueryUnclosedTx(ctx, tx, models.KindTopupRequest, models.StatusApproved)
	if err != nil {
		return nil, err
	}
	systemTotal := sumAmounts(entries)

	now := s.deps.Now().In(s.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	closingDate := dayStart.Format("2006-01-02")

	var priorClosings int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM closings WHERE performed_by = $1 AND closing_date = $2`,
		req.Principal.ID, closingDate).Scan(&priorClosings); err != nil {
		return nil, fmt.Errorf("count closings: %w", err)
	}

	var requestCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE kind = $1 AND created_at >= $2 AND created_at < $3`,
		models.KindTopupRequest, dayStart, dayEnd).Scan(&requestCount); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}

	tripCount, err := s.trips.CountTrips(ctx, tx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	closing := &models.Closing{
		ClosingDate:   dayStart,
		Sequence:      priorClosings + 1,
		PerformedBy:   req.Principal.ID,
		SystemTotal:   systemTotal,
		CountedTotal:  counted,
		Difference:    counted.Sub(systemTotal),
		RequestCount:  requestCount,
		ApprovedCount: len(entries),
		TripCount:     tripCount,
		Status:        models.ClosingClosed,
		CreatedAt:     now,
	}
	if len(entries) > 0 {
		earliest := entries[0].CreatedAt
		for _, e := range entries[1:] {
			if e.CreatedAt.Before(earliest) {
				earliest = e.CreatedAt
			}
		}
		closing.EarliestEntryAt = &earliest
		closing.IncludesPriorDates = earliest.Before(dayStart)
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		closing.Note = &note
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO closings (closing_date, sequence, performed_by, system_total, counted_total, difference,
			request_count, approved_count, trip_count, includes_prior_dates, earliest_entry_at, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		closingDate, closing.Sequence, closing.PerformedBy, closing.SystemTotal, closing.CountedTotal, closing.Difference,
		closing.RequestCount, closing.ApprovedCount, closing.TripCount, closing.IncludesPriorDates, closing.EarliestEntryAt,
		closing.Note, closing.Status, closing.CreatedAt,
	).Scan(&closing.ID)
	if err != nil {
		return nil, fmt.Errorf("insert closing: %w", err)
	}

	affected, err := s.ledger.MarkClosedTx(ctx, tx, entryIDs(entries), closing.ID)
	if err != nil {
		return nil, err
	}
	if affected != int64(len(entries)) {
		return nil, fmt.Errorf("%w: marked %d of %d entries", ErrStorageFailure, affected, len(entries))
	}

	if err := tx.Commit(); err != nil {
		s.deps.Audit.LogError("CLOSING", req.Principal.ID, "closing", err)
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	result := &models.ClosingResult{
		Closing:    closing,
		Label:      closingLabel(closing.Sequence),
		EntryCount: len(entries),
		Message:    closingMessage(closing),
	}

	s.deps.Audit.LogMovement("CLOSING", req.Principal.ID, fmt.Sprintf("closing:%d", closing.ID),
		systemTotal.StringFixed(2), "SUCCESS", map[string]string{
			"counted":    counted.StringFixed(2),
			"difference": closing.Difference.StringFixed(2),
			"entries":    fmt.Sprint(len(entries)),
			"sequence":   fmt.Sprint(closing.Sequence),
		})
	s.deps.Metrics.RecordClosing(systemTotal.InexactFloat64(), len(entries), time.Since(started))
	s.deps.publish(ctx, events.ClosingPerformed, closingEvent(closing, len(entries)))
	s.cache.Set(ctx, closing)

	s.deps.Log.Info("closing performed",
		zap.Int64("closing_id", closing.ID),
		zap.String("performed_by", closing.PerformedBy),
		zap.Int("entries", len(entries)),
		zap.String("system_total", systemTotal.StringFixed(2)))
	return result, nil
}

func closingLabel(sequence int) string {
	if sequence <= 1 {
		return "first closing of the day"
	}
	return fmt.Sprintf("partial closing #%d", sequence)
}

func closingMessage(c *models.Closing) string {
	msg := fmt.Sprintf("%d approved top-ups totaling %s, counted %s, difference %s",
		c.ApprovedCount, c.SystemTotal.StringFixed(2), c.CountedTotal.StringFixed(2), c.Difference.StringFixed(2))
	if c.IncludesPriorDates {
		msg += "; includes entries from previous days"
	}
	return msg
}

func closingEvent(c *models.Closing, entries int) events.ClosingEvent {
	return events.ClosingEvent{
		ClosingID:   c.ID,
		ClosingDate: c.ClosingDate.Format("2006-01-02"),
		Sequence:    c.Sequence,
		PerformedBy: c.PerformedBy,
		SystemTotal: c.SystemTotal,
		Difference:  c.Difference,
		EntryCount:  entries,
		Status:      string(c.Status),
		Timestamp:   c.CreatedAt,
	}
}

// ListClosings returns closing history, newest first unless asked otherwise.
func (s *ClosingService) ListClosings(ctx context.Context, filter models.ClosingFilter) (*models.PageResult[models.Closing], error) {
	page := filter.Page
	if err := page.Normalize(closingSortColumns, "createdAt"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var (
		conditions []string
		args       []any
	)
	if filter.From != nil {
		args = append(args, filter.From.Format("2006-01-02"))
		conditions = append(conditions, fmt.Sprintf("closing_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.Format("2006-01-02"))
		conditions = append(conditions, fmt.Sprintf("closing_date <= $%d", len(args)))
	}
	if filter.PerformedBy != "" {
		args = append(args, filter.PerformedBy)
		conditions = append(conditions, fmt.Sprintf("performed_by = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM closings"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count closings: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM closings%s ORDER BY %s LIMIT $%d OFFSET $%d",
		closingColumns, where, page.OrderBy(closingSortColumns), len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, page.PageSize, page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("query closings: %w", err)
	}
	defer rows.Close()

	items := make([]models.Closing, 0)
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closings: %w", err)
	}

	return &models.PageResult[models.Closing]{
		Items:    items,
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    total,
	}, nil
}

// GetClosing reads through the cache.
func (s *ClosingService) GetClosing(ctx context.Context, id int64) (*models.Closing, error) {
	if closing, ok := s.cache.Get(ctx, id); ok {
		s.deps.Metrics.RecordClosingCache(true)
		return closing, nil
	}
	s.deps.Metrics.RecordClosingCache(false)

	closing, err := scanClosing(s.db.QueryRowContext(ctx, `
		SELECT `+closingColumns+`
		FROM closings
		WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, closing)
	return closing, nil
}

// ClosingEntries lists the ledger entries a closing swept.
func (s *ClosingService) ClosingEntries(ctx context.Context, id int64) ([]models.LedgerEntry, error) {
	if _, err := s.GetClosing(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.ListByClosing(ctx, id)
}

// Reopen detaches the entries of a closed closing so the next closing sweeps them again.
func (s *ClosingService) Reopen(ctx context.Context, id int64, admin models.Principal, reason string) (*models.Closing, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := lockClosings(ctx, tx); err != nil {
		return nil, 0, err
	}

	closing, err := s.lockOpenClosing(ctx, tx, id)
	if err != nil {
		return nil, 0, err
	}

	now := s.deps.Now()
	var note *string
	if reason = strings.TrimSpace(reason); reason != "" {
		note = &reason
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE closings
		SET status = $1, adjustment_note = $2, status_changed_by = $3, status_changed_at = $4
		WHERE id = $5`,
		models.ClosingReopened, note, admin.ID, now, id); err != nil {
		return nil, 0, fmt.Errorf("reopen closing: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries SET closing_id = NULL WHERE closing_id = $1`, id)
	if err != nil {
		return nil, 0, fmt.Errorf("detach entries: %w", err)
	}
	detached, err := result.RowsAffected()
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	closing.Status = models.ClosingReopened
	closing.AdjustmentNote = note
	closing.StatusChangedBy = &admin.ID
	closing.StatusChangedAt = &now

	s.cache.Invalidate(ctx, id)
	s.deps.Audit.LogOperation("CLOSING_REOPENED", admin.ID, fmt.Sprintf("closing:%d", id), map[string]string{
		"detached": fmt.Sprint(detached),
		"reason":   reason,
	})
	s.deps.publish(ctx, events.ClosingReopened, closingEvent(closing, int(detached)))
	return closing, detached, nil
}

// Adjust records a correction on a closed closing. The original totals are kept.
func (s *ClosingService) Adjust(ctx context.Context, id int64, admin models.Principal, amount decimal.Decimal, note string) (*models.Closing, error) {
	if amount.IsZero() || !amount.Equal(amount.Round(2)) {
		return nil, ErrInvalidAmount
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: adjustment note is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	closing, err := s.lockOpenClosing(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE closings
		SET status = $1, adjustment_amount = $2, adjustment_note = $3, status_changed_by = $4, status_changed_at = $5
		WHERE id = $6`,
		models.ClosingAdjusted, amount, note, admin.ID, now, id); err != nil {
		return nil, fmt.Errorf("adjust closing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	closing.Status = models.ClosingAdjusted
	closing.AdjustmentAmount = decimal.NewNullDecimal(amount)
	closing.AdjustmentNote = &note
	closing.StatusChangedBy = &admin.ID
	closing.StatusChangedAt = &now

	s.cache.Invalidate(ctx, id)
	s.deps.Audit.LogMovement("CLOSING_ADJUSTED", admin.ID, fmt.Sprintf("closing:%d", id),
		amount.StringFixed(2), "SUCCESS", map[string]string{"note": note})
	return closing, nil
}

func (s *ClosingService) lockOpenClosing(ctx context.Context, tx *sql.Tx, id int64) (*models.Closing, error) {
	closing, err := scanClosing(tx.QueryRowContext(ctx, `
		SELECT `+closingColumns+`
		FROM closings
		WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if closing.Status != models.ClosingClosed {
		return nil, ErrClosingNotOpen
	}
	return closing, nil
}

func scanClosing(row rowScanner) (*models.Closing, error) {
	var c models.Closing
	err := row.Scan(&c.ID, &c.ClosingDate, &c.Sequence, &c.PerformedBy, &c.SystemTotal, &c.CountedTotal,
		&c.Difference, &c.RequestCount, &c.ApprovedCount, &c.TripCount, &c.IncludesPriorDates, &c.EarliestEntryAt,
		&c.Note, &c.Status, &c.AdjustmentAmount, &c.AdjustmentNote, &c.StatusChangedBy, &c.StatusChangedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan closing: %w", err)
	}
	return &c, nil
}
