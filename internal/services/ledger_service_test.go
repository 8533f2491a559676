package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockAccountSQL   = "SELECT id, owner_type, principal_id, balance, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE"
	updateBalanceSQL = "UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4"
	insertEntrySQL   = "INSERT INTO ledger_entries"
)

func TestLedgerService_PostDirect(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testDeps(nil))
	ctx := context.Background()

	t.Run("credit recharge", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(3)).
			WillReturnRows(accountRows(3, "driver", "driver-9", "10.00", 4))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.RequireFromString("12.50"), sqlmock.AnyArg(), int64(3), 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
		mock.ExpectCommit()

		entry, err := service.PostDirect(ctx, PostingRequest{
			AccountID:     3,
			Kind:          models.KindRecharge,
			Amount:        decimal.RequireFromString("2.50"),
			RequestedBy:   "admin-1",
			RequesterRole: models.RoleAdmin,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(41), entry.ID)
		assert.Equal(t, models.DirectionCredit, entry.Direction)
		assert.Equal(t, models.StatusCompleted, entry.Status)
		assert.True(t, entry.BalanceBefore.Decimal.Equal(decimal.RequireFromString("10")))
		assert.True(t, entry.BalanceAfter.Decimal.Equal(decimal.RequireFromString("12.5")))
		require.NotNil(t, entry.DriverID)
		assert.Equal(t, "driver-9", *entry.DriverID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit beyond balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(3)).
			WillReturnRows(accountRows(3, "owner", "owner-1", "5.00", 1))
		mock.ExpectRollback()

		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindCharge,
			Amount:    decimal.RequireFromString("5.01"),
		})
		assert.True(t, errors.Is(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("adjustment uses explicit direction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(3)).
			WillReturnRows(accountRows(3, "owner", "owner-1", "5.00", 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.RequireFromString("4.00"), sqlmock.AnyArg(), int64(3), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		mock.ExpectCommit()

		entry, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindAdjustment,
			Direction: models.DirectionDebit,
			Amount:    decimal.RequireFromString("1"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DirectionDebit, entry.Direction)
		assert.Nil(t, entry.DriverID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("adjustment without direction", func(t *testing.T) {
		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindAdjustment,
			Amount:    decimal.RequireFromString("1"),
		})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("rejects three fraction digits", func(t *testing.T) {
		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindRecharge,
			Amount:    decimal.RequireFromString("1.005"),
		})
		assert.True(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("rejects top-up kind", func(t *testing.T) {
		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindTopupRequest,
			Amount:    decimal.RequireFromString("1"),
		})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(accountCols))
		mock.ExpectRollback()

		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 99,
			Kind:      models.KindRecharge,
			Amount:    decimal.RequireFromString("1"),
		})
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(3)).
			WillReturnRows(accountRows(3, "owner", "owner-1", "5.00", 1))
		mock.ExpectExec(updateBalanceSQL).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.PostDirect(ctx, PostingRequest{
			AccountID: 3,
			Kind:      models.KindRecharge,
			Amount:    decimal.RequireFromString("1"),
		})
		assert.True(t, errors.Is(err, ErrStorageFailure))
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testDeps(nil))
	ctx := context.Background()

	t.Run("locks in id order and pairs legs", func(t *testing.T) {
		mock.ExpectBegin()
		// from=7, to=2: account 2 is locked first
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(2)).
			WillReturnRows(accountRows(2, "driver", "driver-1", "1.00", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(7)).
			WillReturnRows(accountRows(7, "owner", "owner-1", "50.00", 3))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.RequireFromString("30.00"), sqlmock.AnyArg(), int64(7), 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.RequireFromString("21.00"), sqlmock.AnyArg(), int64(2), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectCommit()

		debit, credit, err := service.Transfer(ctx, TransferRequest{
			FromAccountID: 7,
			ToAccountID:   2,
			Amount:        decimal.RequireFromString("20"),
			RequestedBy:   "owner-1",
			RequesterRole: models.RoleOwner,
		})
		require.NoError(t, err)
		assert.Equal(t, models.KindCharge, debit.Kind)
		assert.Equal(t, models.KindRecharge, credit.Kind)
		require.NotNil(t, debit.TransferRef)
		require.NotNil(t, credit.TransferRef)
		assert.Equal(t, *debit.TransferRef, *credit.TransferRef)
		assert.Equal(t, int64(7), debit.AccountID)
		assert.Equal(t, int64(2), credit.AccountID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance writes nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(2)).
			WillReturnRows(accountRows(2, "driver", "driver-1", "1.00", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs(int64(7)).
			WillReturnRows(accountRows(7, "owner", "owner-1", "5.00", 3))
		mock.ExpectRollback()

		_, _, err := service.Transfer(ctx, TransferRequest{
			FromAccountID: 7,
			ToAccountID:   2,
			Amount:        decimal.RequireFromString("6"),
		})
		assert.True(t, errors.Is(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same account", func(t *testing.T) {
		_, _, err := service.Transfer(ctx, TransferRequest{
			FromAccountID: 7,
			ToAccountID:   7,
			Amount:        decimal.RequireFromString("1"),
		})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestLedgerService_QueryUnclosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testDeps(nil))

	rows := sqlmock.NewRows(entryCols)
	addEntry(rows, 1, models.KindTopupRequest, models.StatusApproved, "5.00", 3, testNow.AddDate(0, 0, -2))
	addEntry(rows, 2, models.KindTopupRequest, models.StatusApproved, "10.00", 4, testNow)

	mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE kind = \\$1 AND status = \\$2 AND closing_id IS NULL ORDER BY id").
		WithArgs("topup-request", "approved").
		WillReturnRows(rows)

	entries, err := service.QueryUnclosed(context.Background(), models.KindTopupRequest, models.StatusApproved)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Nil(t, entries[0].ClosingID)
	assert.False(t, entries[0].BalanceBefore.Valid)
	assert.True(t, sumAmounts(entries).Equal(decimal.RequireFromString("15")))
	assert.Equal(t, []int64{1, 2}, entryIDs(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_MarkClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testDeps(nil))
	ctx := context.Background()

	t.Run("only unclosed rows are touched", func(t *testing.T) {
		mock.ExpectExec("UPDATE ledger_entries SET closing_id = \\$1 WHERE id = ANY\\(\\$2\\) AND closing_id IS NULL").
			WithArgs(int64(5), pq.Array([]int64{1, 2, 3})).
			WillReturnResult(sqlmock.NewResult(0, 3))

		affected, err := service.MarkClosed(ctx, []int64{1, 2, 3}, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(3), affected)
	})

	t.Run("re-run is a no-op", func(t *testing.T) {
		mock.ExpectExec("UPDATE ledger_entries SET closing_id").
			WithArgs(int64(6), pq.Array([]int64{1, 2, 3})).
			WillReturnResult(sqlmock.NewResult(0, 0))

		affected, err := service.MarkClosed(ctx, []int64{1, 2, 3}, 6)
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)
	})

	t.Run("empty id list skips the database", func(t *testing.T) {
		affected, err := service.MarkClosed(ctx, nil, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_ListEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testDeps(nil))
	ctx := context.Background()

	t.Run("paginated statement", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

		rows := sqlmock.NewRows(entryCols)
		addEntry(rows, 9, models.KindRecharge, models.StatusCompleted, "1.00", 3, testNow)
		mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE account_id = \\$1 ORDER BY amount ASC, id ASC LIMIT \\$2 OFFSET \\$3").
			WithArgs(int64(3), 10, 10).
			WillReturnRows(rows)

		result, err := service.ListEntries(ctx, 3, models.Page{Page: 2, PageSize: 10, SortKey: "amount", SortDirection: "asc"})
		require.NoError(t, err)
		assert.Equal(t, 12, result.Total)
		assert.Len(t, result.Items, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown sort key", func(t *testing.T) {
		_, err := service.ListEntries(ctx, 3, models.Page{SortKey: "description"})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestAccountStore_EnsureAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, fixedClock)

	mock.ExpectExec("INSERT INTO accounts \\(owner_type, principal_id, balance, version, updated_at\\) VALUES \\(\\$1, \\$2, 0, 1, \\$3\\) ON CONFLICT \\(owner_type, principal_id\\) DO NOTHING").
		WithArgs("owner", "owner-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE owner_type = \\$1 AND principal_id = \\$2").
		WithArgs("owner", "owner-1").
		WillReturnRows(accountRows(3, "owner", "owner-1", "10.00", 2))

	account, err := store.EnsureAccount(context.Background(), models.OwnerTypeOwner, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), account.ID)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("10")))

	_, err = store.EnsureAccount(context.Background(), models.OwnerType("fleet"), "x")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}
