package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, kind, status, direction, amount, balance_before, balance_after, account_id, driver_id, requester_role, requested_by, approver_id, method, proof_ref, description, transfer_ref, closing_id, created_at, resolved_at`

var entrySortColumns = map[string]string{
	"id":        "id",
	"createdAt": "created_at",
	"amount":    "amount",
}

// PostingRequest describes a direct balance movement on one account.
type PostingRequest struct {
	AccountID     int64
	Kind          models.EntryKind
	Amount        decimal.Decimal
	Description   string
	Direction     models.Direction // only read for adjustments
	RequestedBy   string
	RequesterRole models.Role
}

type TransferRequest struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	Description   string
	RequestedBy   string
	RequesterRole models.Role
}

// LedgerService appends balance-affecting entries. Every resolved entry
// snapshots the balance before and after it.
type LedgerService struct {
	db       *sql.DB
	accounts *AccountStore
	deps     Dependencies
}

func NewLedgerService(db *sql.DB, deps Dependencies) *LedgerService {
	deps = deps.withDefaults()
	return &LedgerService{
		db:       db,
		accounts: NewAccountStore(db, deps.Now),
		deps:     deps,
	}
}

func (s *LedgerService) Accounts() *AccountStore {
	return s.accounts
}

// PostDirect applies one completed entry and its balance change atomically.
func (s *LedgerService) PostDirect(ctx context.Context, req PostingRequest) (*models.LedgerEntry, error) {
	if !validAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	direction, fixed := models.DirectionFor(req.Kind)
	switch {
	case req.Kind == models.KindTopupRequest:
		return nil, fmt.Errorf("%w: top-ups go through the request workflow", ErrInvalidInput)
	case req.Kind == models.KindAdjustment:
		if req.Direction != models.DirectionCredit && req.Direction != models.DirectionDebit {
			return nil, fmt.Errorf("%w: adjustment requires a direction", ErrInvalidInput)
		}
		direction = req.Direction
	case !fixed:
		return nil, fmt.Errorf("%w: unknown entry kind %q", ErrInvalidInput, req.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	account, err := s.accounts.lockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return nil, err
	}

	entry, err := s.applyTx(ctx, tx, account, direction, &models.LedgerEntry{
		Kind:          req.Kind,
		Amount:        req.Amount,
		Description:   req.Description,
		RequestedBy:   req.RequestedBy,
		RequesterRole: string(req.RequesterRole),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.deps.Metrics.RecordPosting(string(entry.Kind), string(entry.Direction))
	s.deps.Audit.LogMovement("LEDGER_POST", req.RequestedBy, fmt.Sprintf("account:%d", account.ID),
		entry.Amount.StringFixed(2), "SUCCESS", map[string]string{
			"kind":      string(entry.Kind),
			"direction": string(entry.Direction),
			"entry_id":  fmt.Sprint(entry.ID),
		})
	return entry, nil
}

// Transfer moves funds between two accounts as one primitive. Both legs share a
// transfer reference.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (*models.LedgerEntry, *models.LedgerEntry, error) {
	if !validAmount(req.Amount) {
		return nil, nil, ErrInvalidAmount
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, nil, fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := req.FromAccountID, req.ToAccountID
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	fromAccount, err := s.accounts.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, nil, err
	}

	toAccount, err := s.accounts.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, nil, err
	}

	if firstLock != req.FromAccountID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	ref := uuid.NewString()
	debit, err := s.applyTx(ctx, tx, fromAccount, models.DirectionDebit, &models.LedgerEntry{
		Kind:          models.KindCharge,
		Amount:        req.Amount,
		Description:   req.Description,
		RequestedBy:   req.RequestedBy,
		RequesterRole: string(req.RequesterRole),
		TransferRef:   &ref,
	})
	if err != nil {
		return nil, nil, err
	}

	credit, err := s.applyTx(ctx, tx, toAccount, models.DirectionCredit, &models.LedgerEntry{
		Kind:          models.KindRecharge,
		Amount:        req.Amount,
		Description:   req.Description,
		RequestedBy:   req.RequestedBy,
		RequesterRole: string(req.RequesterRole),
		TransferRef:   &ref,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.deps.Metrics.RecordPosting(string(models.KindCharge), string(models.DirectionDebit))
	s.deps.Metrics.RecordPosting(string(models.KindRecharge), string(models.DirectionCredit))
	s.deps.Audit.LogMovement("TRANSFER", req.RequestedBy, ref, req.Amount.StringFixed(2), "SUCCESS", map[string]string{
		"from_account": fmt.Sprint(fromAccount.ID),
		"to_account":   fmt.Sprint(toAccount.ID),
	})
	return debit, credit, nil
}

// applyTx moves the locked account by amount and appends the completed entry.
func (s *LedgerService) applyTx(ctx context.Context, tx *sql.Tx, account *models.Account, direction models.Direction, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	before := account.Balance
	after := before.Add(entry.Amount)
	if direction == models.DirectionDebit {
		if before.LessThan(entry.Amount) {
			return nil, ErrInsufficientFunds
		}
		after = before.Sub(entry.Amount)
	}

	if err := s.accounts.updateAccountBalance(ctx, tx, account.ID, after, account.Version); err != nil {
		return nil, err
	}
	account.Balance = after
	account.Version++

	now := s.deps.Now()
	entry.Status = models.StatusCompleted
	entry.Direction = direction
	entry.AccountID = account.ID
	entry.BalanceBefore = decimal.NewNullDecimal(before)
	entry.BalanceAfter = decimal.NewNullDecimal(after)
	entry.CreatedAt = now
	entry.ResolvedAt = &now
	if account.OwnerType == models.OwnerTypeDriver {
		driverID := account.PrincipalID
		entry.DriverID = &driverID
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, q Querier, e *models.LedgerEntry) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (kind, status, direction, amount, balance_before, balance_after, account_id, driver_id,
			requester_role, requested_by, approver_id, method, proof_ref, description, transfer_ref, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		e.Kind, e.Status, e.Direction, e.Amount, e.BalanceBefore, e.BalanceAfter, e.AccountID, e.DriverID,
		e.RequesterRole, e.RequestedBy, e.ApproverID, e.Method, e.ProofRef, e.Description, e.TransferRef, e.CreatedAt, e.ResolvedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// QueryUnclosed returns every entry of the kind and status not yet attached to a
// closing, of any date, in id order.
func (s *LedgerService) QueryUnclosed(ctx context.Context, kind models.EntryKind, status models.EntryStatus) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE kind = $1 AND status = $2 AND closing_id IS NULL
		ORDER BY id`, kind, status)
}

// QueryUnclosedTx is QueryUnclosed inside a caller transaction with the rows locked.
func (s *LedgerService) QueryUnclosedTx(ctx context.Context, tx *sql.Tx, kind models.EntryKind, status models.EntryStatus) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, tx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE kind = $1 AND status = $2 AND closing_id IS NULL
		ORDER BY id
		FOR UPDATE`, kind, status)
}

// MarkClosed attaches entries to a closing. Entries already closed are left alone.
func (s *LedgerService) MarkClosed(ctx context.Context, entryIDs []int64, closingID int64) (int64, error) {
	return markClosed(ctx, s.db, entryIDs, closingID)
}

func (s *LedgerService) MarkClosedTx(ctx context.Context, tx *sql.Tx, entryIDs []int64, closingID int64) (int64, error) {
	return markClosed(ctx, tx, entryIDs, closingID)
}

func markClosed(ctx context.Context, q Querier, entryIDs []int64, closingID int64) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	result, err := q.ExecContext(ctx, `
		UPDATE ledger_entries
		SET closing_id = $1
		WHERE id = ANY($2) AND closing_id IS NULL`,
		closingID, pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("mark closed: %w", err)
	}
	return result.RowsAffected()
}

// ListEntries returns one page of an account statement.
func (s *LedgerService) ListEntries(ctx context.Context, accountID int64, page models.Page) (*models.PageResult[models.LedgerEntry], error) {
	return listEntries(ctx, s.db, "account_id = $1", []any{accountID}, page)
}

// ListByClosing returns the entries a closing swept.
func (s *LedgerService) ListByClosing(ctx context.Context, closingID int64) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE closing_id = $1
		ORDER BY id`, closingID)
}

func listEntries(ctx context.Context, q Querier, where string, args []any, page models.Page) (*models.PageResult[models.LedgerEntry], error) {
	if err := page.Normalize(entrySortColumns, "createdAt"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM ledger_entries WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		entryColumns, where, page.OrderBy(entrySortColumns), n+1, n+2)
	items, err := queryEntries(ctx, q, query, append(args, page.PageSize, page.Offset())...)
	if err != nil {
		return nil, err
	}

	return &models.PageResult[models.LedgerEntry]{
		Items:    items,
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    total,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Direction, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.AccountID, &e.DriverID, &e.RequesterRole, &e.RequestedBy, &e.ApproverID, &e.Method, &e.ProofRef,
		&e.Description, &e.TransferRef, &e.ClosingID, &e.CreatedAt, &e.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return &e, nil
}

func queryEntries(ctx context.Context, q Querier, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func sumAmounts(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

func entryIDs(entries []models.LedgerEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
