package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys published on the treasury exchange.
const (
	TopupApproved    = "topup.approved"
	TopupRejected    = "topup.rejected"
	ClosingPerformed = "closing.performed"
	ClosingReopened  = "closing.reopened"
	AuthKeyChanged   = "authkey.changed"
)

type TopupResolvedEvent struct {
	EntryID    int64           `json:"entry_id"`
	AccountID  int64           `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	ApproverID string          `json:"approver_id"`
	NewBalance *string         `json:"new_balance,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type ClosingEvent struct {
	ClosingID   int64           `json:"closing_id"`
	ClosingDate string          `json:"closing_date"`
	Sequence    int             `json:"sequence"`
	PerformedBy string          `json:"performed_by"`
	SystemTotal decimal.Decimal `json:"system_total"`
	Difference  decimal.Decimal `json:"difference"`
	EntryCount  int             `json:"entry_count"`
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AuthKeyEvent never carries the secret.
type AuthKeyEvent struct {
	AdminID     string     `json:"admin_id"`
	Action      string     `json:"action"`
	IsTemporary bool       `json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
