package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, owner_type, principal_id, balance, version, updated_at`

// AccountStore owns the balance rows. Balances change only through ledger postings.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountStore(db *sql.DB, now func() time.Time) *AccountStore {
	if now == nil {
		now = time.Now
	}
	return &AccountStore{db: db, now: now}
}

// validAmount accepts strictly positive values with at most two fraction digits.
func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// EnsureAccount creates the account on first use and returns it.
func (s *AccountStore) EnsureAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error) {
	if !ownerType.Valid() || principalID == "" {
		return nil, ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (owner_type, principal_id, balance, version, updated_at)
		VALUES ($1, $2, 0, 1, $3)
		ON CONFLICT (owner_type, principal_id) DO NOTHING`,
		ownerType, principalID, s.now())
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	return s.GetAccount(ctx, ownerType, principalID)
}

func (s *AccountStore) GetAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner_type = $1 AND principal_id = $2`,
		ownerType, principalID)
	return scanAccount(row)
}

func (s *AccountStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID)
	return scanAccount(row)
}

func (s *AccountStore) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID int64, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, s.now(), accountID, version)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: optimistic lock failed for account %d", ErrStorageFailure, accountID)
	}

	return nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.ID, &account.OwnerType, &account.PrincipalID, &account.Balance, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}
