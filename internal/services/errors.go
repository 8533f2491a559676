package services

import "errors"

// Validation errors. Nothing is persisted when one of these is returned.
var (
	ErrInvalidAmount   = errors.New("treasury: invalid amount")
	ErrProofRequired   = errors.New("treasury: proof reference required for this method")
	ErrBadSecretFormat = errors.New("treasury: secret must be 4 to 6 digits")
	ErrMissingExpiry   = errors.New("treasury: temporary key requires a future expiry")
	ErrInvalidInput    = errors.New("treasury: invalid input")
)

// State conflicts.
var (
	ErrNotFound               = errors.New("treasury: not found")
	ErrAlreadyProcessed       = errors.New("treasury: request already processed")
	ErrAlreadyUsedByPrincipal = errors.New("treasury: key already used by this principal")
	ErrClosingNotOpen         = errors.New("treasury: closing is not in closed state")
	ErrPendingWorkExists      = errors.New("treasury: pending work exists")
	ErrInsufficientFunds      = errors.New("treasury: insufficient funds")
)

// Authorization failures.
var (
	ErrWrongSecret     = errors.New("treasury: wrong authorization secret")
	ErrKeyExpired      = errors.New("treasury: authorization key expired")
	ErrNoKeyConfigured = errors.New("treasury: no authorization key configured")
	ErrWrongPassword   = errors.New("treasury: wrong password")
	ErrForbidden       = errors.New("treasury: forbidden")
)

var ErrStorageFailure = errors.New("treasury: storage failure")
