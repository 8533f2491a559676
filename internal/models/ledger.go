package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OwnerType string

const (
	OwnerTypeOwner  OwnerType = "owner"
	OwnerTypeDriver OwnerType = "driver"
)

func (t OwnerType) Valid() bool {
	return t == OwnerTypeOwner || t == OwnerTypeDriver
}

type EntryKind string

const (
	KindRecharge     EntryKind = "recharge"
	KindCharge       EntryKind = "charge"
	KindAdjustment   EntryKind = "adjustment"
	KindTopupRequest EntryKind = "topup-request"
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusApproved  EntryStatus = "approved"
	StatusRejected  EntryStatus = "rejected"
	StatusCompleted EntryStatus = "completed"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// DirectionFor returns the fixed direction of a kind. Adjustments carry their
// own direction and report false.
func DirectionFor(kind EntryKind) (Direction, bool) {
	switch kind {
	case KindRecharge, KindTopupRequest:
		return DirectionCredit, true
	case KindCharge:
		return DirectionDebit, true
	default:
		return "", false
	}
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodDeposit  PaymentMethod = "deposit"
)

// RequiresProof reports whether a top-up with this method must carry a proof reference.
func (m PaymentMethod) RequiresProof() bool {
	return m == MethodTransfer || m == MethodDeposit
}

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodTransfer || m == MethodDeposit
}

type Account struct {
	ID          int64           `json:"id" db:"id"`
	OwnerType   OwnerType       `json:"owner_type" db:"owner_type"`
	PrincipalID string          `json:"principal_id" db:"principal_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Version     int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

type LedgerEntry struct {
	ID            int64               `json:"id" db:"id"`
	Kind          EntryKind           `json:"kind" db:"kind"`
	Status        EntryStatus         `json:"status" db:"status"`
	Direction     Direction           `json:"direction" db:"direction"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	BalanceBefore decimal.NullDecimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after" db:"balance_after"`
	AccountID     int64               `json:"account_id" db:"account_id"`
	DriverID      *string             `json:"driver_id,omitempty" db:"driver_id"`
	RequesterRole string              `json:"requester_role" db:"requester_role"`
	RequestedBy   string              `json:"requested_by" db:"requested_by"`
	ApproverID    *string             `json:"approver_id,omitempty" db:"approver_id"`
	Method        *PaymentMethod      `json:"method,omitempty" db:"method"`
	ProofRef      *string             `json:"proof_ref,omitempty" db:"proof_ref"`
	Description   string              `json:"description" db:"description"`
	TransferRef   *string             `json:"transfer_ref,omitempty" db:"transfer_ref"`
	ClosingID     *int64              `json:"closing_id,omitempty" db:"closing_id"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
}
