package services

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	args := m.Called(routingKey, body)
	return args.Error(0)
}

func (m *MockPublisher) Close() {}

type MockTripStats struct {
	mock.Mock
}

func (m *MockTripStats) CountTrips(ctx context.Context, q Querier, from, to time.Time) (int, error) {
	args := m.Called(from, to)
	return args.Int(0), args.Error(1)
}

func (m *MockTripStats) CountUnresolvedTickets(ctx context.Context, q Querier) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func testDeps(pub *MockPublisher) Dependencies {
	deps := Dependencies{Now: fixedClock}
	if pub != nil {
		deps.Events = pub
	}
	return deps
}

var accountCols = []string{"id", "owner_type", "principal_id", "balance", "version", "updated_at"}

var entryCols = []string{"id", "kind", "status", "direction", "amount", "balance_before", "balance_after",
	"account_id", "driver_id", "requester_role", "requested_by", "approver_id", "method", "proof_ref",
	"description", "transfer_ref", "closing_id", "created_at", "resolved_at"}

func accountRows(id int64, ownerType, principal, balance string, version int) *sqlmock.Rows {
	return sqlmock.NewRows(accountCols).AddRow(id, ownerType, principal, balance, version, testNow)
}

// addEntry appends an unresolved or approved entry row without balance snapshots.
func addEntry(rows *sqlmock.Rows, id int64, kind models.EntryKind, status models.EntryStatus, amount string, accountID int64, createdAt time.Time) *sqlmock.Rows {
	direction, ok := models.DirectionFor(kind)
	if !ok {
		direction = models.DirectionCredit
	}
	return rows.AddRow(id, string(kind), string(status), string(direction), amount, nil, nil,
		accountID, nil, "owner", "owner-1", nil, "cash", nil,
		"", nil, nil, createdAt, nil)
}
