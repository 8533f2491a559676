package handlers

import (
	"context"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockTopupService struct{ mock.Mock }

func (m *MockTopupService) Submit(ctx context.Context, req services.SubmitRequest) (*models.LedgerEntry, error) {
	args := m.Called(req)
	entry, _ := args.Get(0).(*models.LedgerEntry)
	return entry, args.Error(1)
}

func (m *MockTopupService) Approve(ctx context.Context, id int64, approver models.Principal) (*models.LedgerEntry, decimal.Decimal, error) {
	args := m.Called(id, approver)
	entry, _ := args.Get(0).(*models.LedgerEntry)
	return entry, args.Get(1).(decimal.Decimal), args.Error(2)
}

func (m *MockTopupService) Reject(ctx context.Context, id int64, approver models.Principal) (*models.LedgerEntry, error) {
	args := m.Called(id, approver)
	entry, _ := args.Get(0).(*models.LedgerEntry)
	return entry, args.Error(1)
}

func (m *MockTopupService) ListPending(ctx context.Context, page models.Page) (*models.PageResult[models.LedgerEntry], error) {
	args := m.Called(page)
	result, _ := args.Get(0).(*models.PageResult[models.LedgerEntry])
	return result, args.Error(1)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) PostDirect(ctx context.Context, req services.PostingRequest) (*models.LedgerEntry, error) {
	args := m.Called(req)
	entry, _ := args.Get(0).(*models.LedgerEntry)
	return entry, args.Error(1)
}

func (m *MockLedger) Transfer(ctx context.Context, req services.TransferRequest) (*models.LedgerEntry, *models.LedgerEntry, error) {
	args := m.Called(req)
	debit, _ := args.Get(0).(*models.LedgerEntry)
	credit, _ := args.Get(1).(*models.LedgerEntry)
	return debit, credit, args.Error(2)
}

func (m *MockLedger) ListEntries(ctx context.Context, accountID int64, page models.Page) (*models.PageResult[models.LedgerEntry], error) {
	args := m.Called(accountID, page)
	result, _ := args.Get(0).(*models.PageResult[models.LedgerEntry])
	return result, args.Error(1)
}

type MockAccounts struct{ mock.Mock }

func (m *MockAccounts) EnsureAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error) {
	args := m.Called(ownerType, principalID)
	account, _ := args.Get(0).(*models.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) GetAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error) {
	args := m.Called(ownerType, principalID)
	account, _ := args.Get(0).(*models.Account)
	return account, args.Error(1)
}

type MockAuthKey struct{ mock.Mock }

func (m *MockAuthKey) SetKey(ctx context.Context, req services.SetKeyRequest) (*models.KeyStatus, error) {
	args := m.Called(req)
	status, _ := args.Get(0).(*models.KeyStatus)
	return status, args.Error(1)
}

func (m *MockAuthKey) Verify(ctx context.Context, candidate, principalID string) error {
	return m.Called(candidate, principalID).Error(0)
}

func (m *MockAuthKey) Status(ctx context.Context) (*models.KeyStatus, error) {
	args := m.Called()
	status, _ := args.Get(0).(*models.KeyStatus)
	return status, args.Error(1)
}

func (m *MockAuthKey) Reveal(ctx context.Context, adminID, password string) (string, error) {
	args := m.Called(adminID, password)
	return args.String(0), args.Error(1)
}

func (m *MockAuthKey) Clear(ctx context.Context, adminID, password string) error {
	return m.Called(adminID, password).Error(0)
}

type MockClosings struct{ mock.Mock }

func (m *MockClosings) PerformClosing(ctx context.Context, req services.PerformClosingRequest) (*models.ClosingResult, error) {
	args := m.Called(req)
	result, _ := args.Get(0).(*models.ClosingResult)
	return result, args.Error(1)
}

func (m *MockClosings) ListClosings(ctx context.Context, filter models.ClosingFilter) (*models.PageResult[models.Closing], error) {
	args := m.Called(filter)
	result, _ := args.Get(0).(*models.PageResult[models.Closing])
	return result, args.Error(1)
}

func (m *MockClosings) GetClosing(ctx context.Context, id int64) (*models.Closing, error) {
	args := m.Called(id)
	closing, _ := args.Get(0).(*models.Closing)
	return closing, args.Error(1)
}

func (m *MockClosings) ClosingEntries(ctx context.Context, id int64) ([]models.LedgerEntry, error) {
	args := m.Called(id)
	entries, _ := args.Get(0).([]models.LedgerEntry)
	return entries, args.Error(1)
}

func (m *MockClosings) Reopen(ctx context.Context, id int64, admin models.Principal, reason string) (*models.Closing, int64, error) {
	args := m.Called(id, admin, reason)
	closing, _ := args.Get(0).(*models.Closing)
	return closing, args.Get(1).(int64), args.Error(2)
}

func (m *MockClosings) Adjust(ctx context.Context, id int64, admin models.Principal, amount decimal.Decimal, note string) (*models.Closing, error) {
	args := m.Called(id, admin, amount, note)
	closing, _ := args.Get(0).(*models.Closing)
	return closing, args.Error(1)
}

type MockMaintenance struct{ mock.Mock }

func (m *MockMaintenance) PurgeOld(ctx context.Context, cutoffAge time.Duration) (*models.PurgeProgress, error) {
	args := m.Called(cutoffAge)
	progress, _ := args.Get(0).(*models.PurgeProgress)
	return progress, args.Error(1)
}

func (m *MockMaintenance) Progress(ctx context.Context) (*models.PurgeProgress, error) {
	args := m.Called()
	progress, _ := args.Get(0).(*models.PurgeProgress)
	return progress, args.Error(1)
}

type MockSession struct{ mock.Mock }

func (m *MockSession) Login(ctx context.Context, userID, password string) (*services.LoginResult, error) {
	args := m.Called(userID, password)
	result, _ := args.Get(0).(*services.LoginResult)
	return result, args.Error(1)
}

func (m *MockSession) Logout(ctx context.Context, token string) error {
	return m.Called(token).Error(0)
}
