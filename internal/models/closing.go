package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClosingStatus string

const (
	ClosingClosed   ClosingStatus = "closed"
	ClosingReopened ClosingStatus = "reopened"
	ClosingAdjusted ClosingStatus = "adjusted"
)

// Closing is an immutable snapshot of the approved top-ups swept at one point in time.
// Only the lifecycle columns change after insert.
type Closing struct {
	ID                 int64               `json:"id" db:"id"`
	ClosingDate        time.Time           `json:"closing_date" db:"closing_date"`
	Sequence           int                 `json:"sequence" db:"sequence"`
	PerformedBy        string              `json:"performed_by" db:"performed_by"`
	SystemTotal        decimal.Decimal     `json:"system_total" db:"system_total"`
	CountedTotal       decimal.Decimal     `json:"counted_total" db:"counted_total"`
	Difference         decimal.Decimal     `json:"difference" db:"difference"`
	RequestCount       int                 `json:"request_count" db:"request_count"`
	ApprovedCount      int                 `json:"approved_count" db:"approved_count"`
	TripCount          int                 `json:"trip_count" db:"trip_count"`
	IncludesPriorDates bool                `json:"includes_prior_dates" db:"includes_prior_dates"`
	EarliestEntryAt    *time.Time          `json:"earliest_entry_at,omitempty" db:"earliest_entry_at"`
	Note               *string             `json:"note,omitempty" db:"note"`
	Status             ClosingStatus       `json:"status" db:"status"`
	AdjustmentAmount   decimal.NullDecimal `json:"adjustment_amount" db:"adjustment_amount"`
	AdjustmentNote     *string             `json:"adjustment_note,omitempty" db:"adjustment_note"`
	StatusChangedBy    *string             `json:"status_changed_by,omitempty" db:"status_changed_by"`
	StatusChangedAt    *time.Time          `json:"status_changed_at,omitempty" db:"status_changed_at"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
}

// ClosingResult is what a caller sees after performing a closing.
type ClosingResult struct {
	Closing    *Closing `json:"closing"`
	Label      string   `json:"label"`
	EntryCount int      `json:"entry_count"`
	Message    string   `json:"message"`
}

type ClosingFilter struct {
	From        *time.Time
	To          *time.Time
	PerformedBy string
	Page        Page
}
