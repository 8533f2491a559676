package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fleetpay/treasury/internal/events"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SubmitRequest struct {
	Requester   models.Principal
	Amount      decimal.Decimal
	Method      models.PaymentMethod
	ProofRef    string
	Description string
}

// RequestService runs the top-up approval workflow: pending, then approved or rejected.
type RequestService struct {
	db        *sql.DB
	ledger    *LedgerService
	maxAmount decimal.Decimal
	deps      Dependencies
}

// NewRequestService builds the workflow. A zero maxAmount means no upper limit.
func NewRequestService(db *sql.DB, ledger *LedgerService, maxAmount decimal.Decimal, deps Dependencies) *RequestService {
	return &RequestService{
		db:        db,
		ledger:    ledger,
		maxAmount: maxAmount,
		deps:      deps.withDefaults(),
	}
}

// Submit records a pending top-up on the requester's account.
func (s *RequestService) Submit(ctx context.Context, req SubmitRequest) (*models.LedgerEntry, error) {
	if !validAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if s.maxAmount.IsPositive() && req.Amount.GreaterThan(s.maxAmount) {
		return nil, fmt.Errorf("%w: exceeds the %s limit", ErrInvalidAmount, s.maxAmount.StringFixed(2))
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidInput, req.Method)
	}
	proofRef := strings.TrimSpace(req.ProofRef)
	if req.Method.RequiresProof() && proofRef == "" {
		return nil, ErrProofRequired
	}

	ownerType := models.OwnerTypeOwner
	if req.Requester.Role == models.RoleDriver {
		ownerType = models.OwnerTypeDriver
	}

	account, err := s.ledger.Accounts().EnsureAccount(ctx, ownerType, req.Requester.ID)
	if err != nil {
		return nil, err
	}

	method := req.Method
	entry := &models.LedgerEntry{
		Kind:          models.KindTopupRequest,
		Status:        models.StatusPending,
		Direction:     models.DirectionCredit,
		Amount:        req.Amount,
		AccountID:     account.ID,
		RequesterRole: string(req.Requester.Role),
		RequestedBy:   req.Requester.ID,
		Method:        &method,
		Description:   req.Description,
		CreatedAt:     s.deps.Now(),
	}
	if proofRef != "" {
		entry.ProofRef = &proofRef
	}
	if ownerType == models.OwnerTypeDriver {
		driverID := req.Requester.ID
		entry.DriverID = &driverID
	}

	if err := insertEntry(ctx, s.db, entry); err != nil {
		return nil, err
	}

	s.deps.Metrics.RecordTopup("submitted")
	s.deps.Log.Info("top-up request submitted",
		zap.Int64("entry_id", entry.ID),
		zap.String("requested_by", entry.RequestedBy),
		zap.String("amount", entry.Amount.StringFixed(2)))
	return entry, nil
}

// Approve credits the target account and resolves the request in one transaction.
func (s *RequestService) Approve(ctx context.Context, requestID int64, approver models.Principal) (*models.LedgerEntry, decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	entry, err := s.lockPending(ctx, tx, requestID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	account, err := s.ledger.accounts.lockAccount(ctx, tx, entry.AccountID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	before := account.Balance
	after := before.Add(entry.Amount)
	if err := s.ledger.accounts.updateAccountBalance(ctx, tx, account.ID, after, account.Version); err != nil {
		return nil, decimal.Zero, err
	}

	now := s.deps.Now()
	approverID := approver.ID
	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, balance_before = $2, balance_after = $3, approver_id = $4, resolved_at = $5
		WHERE id = $6`,
		models.StatusApproved, before, after, approverID, now, entry.ID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("approve request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	entry.Status = models.StatusApproved
	entry.BalanceBefore = decimal.NewNullDecimal(before)
	entry.BalanceAfter = decimal.NewNullDecimal(after)
	entry.ApproverID = &approverID
	entry.ResolvedAt = &now

	s.deps.Metrics.RecordTopup("approved")
	s.deps.Metrics.RecordPosting(string(entry.Kind), string(entry.Direction))
	s.deps.Audit.LogMovement("TOPUP_APPROVED", approver.ID, fmt.Sprintf("entry:%d", entry.ID),
		entry.Amount.StringFixed(2), "SUCCESS", map[string]string{
			"account_id":     fmt.Sprint(account.ID),
			"balance_before": before.StringFixed(2),
			"balance_after":  after.StringFixed(2),
		})
	newBalance := after.StringFixed(2)
	s.deps.publish(ctx, events.TopupApproved, events.TopupResolvedEvent{
		EntryID:    entry.ID,
		AccountID:  entry.AccountID,
		Amount:     entry.Amount,
		Status:     string(entry.Status),
		ApproverID: approver.ID,
		NewBalance: &newBalance,
		Timestamp:  now,
	})
	return entry, after, nil
}

// Reject resolves a pending request without touching any balance.
func (s *RequestService) Reject(ctx context.Context, requestID int64, approver models.Principal) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	entry, err := s.lockPending(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	approverID := approver.ID
	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, approver_id = $2, resolved_at = $3
		WHERE id = $4`,
		models.StatusRejected, approverID, now, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("reject request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	entry.Status = models.StatusRejected
	entry.ApproverID = &approverID
	entry.ResolvedAt = &now

	s.deps.Metrics.RecordTopup("rejected")
	s.deps.Audit.LogOperation("TOPUP_REJECTED", approver.ID, fmt.Sprintf("entry:%d", entry.ID), map[string]string{
		"amount": entry.Amount.StringFixed(2),
	})
	s.deps.publish(ctx, events.TopupRejected, events.TopupResolvedEvent{
		EntryID:    entry.ID,
		AccountID:  entry.AccountID,
		Amount:     entry.Amount,
		Status:     string(entry.Status),
		ApproverID: approver.ID,
		Timestamp:  now,
	})
	return entry, nil
}

// ListPending returns the treasury queue.
func (s *RequestService) ListPending(ctx context.Context, page models.Page) (*models.PageResult[models.LedgerEntry], error) {
	return listEntries(ctx, s.db, "kind = $1 AND status = $2",
		[]any{models.KindTopupRequest, models.StatusPending}, page)
}

func (s *RequestService) lockPending(ctx context.Context, tx *sql.Tx, requestID int64) (*models.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE id = $1 AND kind = $2
		FOR UPDATE`, requestID, models.KindTopupRequest)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusPending {
		return nil, ErrAlreadyProcessed
	}
	return entry, nil
}
