package handlers

import (
	"context"
	"net/http"

	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LedgerAPI interface {
	PostDirect(ctx context.Context, req services.PostingRequest) (*models.LedgerEntry, error)
	Transfer(ctx context.Context, req services.TransferRequest) (*models.LedgerEntry, *models.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID int64, page models.Page) (*models.PageResult[models.LedgerEntry], error)
}

type AccountAPI interface {
	EnsureAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error)
	GetAccount(ctx context.Context, ownerType models.OwnerType, principalID string) (*models.Account, error)
}

type LedgerHandler struct {
	ledger    LedgerAPI
	accounts  AccountAPI
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewLedgerHandler(ledger LedgerAPI, accounts AccountAPI, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		accounts:  accounts,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type postEntryRequest struct {
	OwnerType   string `json:"ownerType" validate:"required,oneof=owner driver"`
	PrincipalID string `json:"principalId" validate:"required,max=64"`
	Kind        string `json:"kind" validate:"required,oneof=recharge charge adjustment"`
	Amount      string `json:"amount" validate:"required"`
	Direction   string `json:"direction" validate:"omitempty,oneof=credit debit"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

type transferRequest struct {
	FromOwnerID string `json:"fromOwnerId" validate:"omitempty,max=64"`
	DriverID    string `json:"driverId" validate:"required,max=64"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

// PostEntry applies an administrative recharge, charge or adjustment.
func (h *LedgerHandler) PostEntry(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req postEntryRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, h.log, services.ErrInvalidAmount)
		return
	}

	account, err := h.accounts.EnsureAccount(r.Context(), models.OwnerType(req.OwnerType), req.PrincipalID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	entry, err := h.ledger.PostDirect(r.Context(), services.PostingRequest{
		AccountID:     account.ID,
		Kind:          models.EntryKind(req.Kind),
		Amount:        amount,
		Description:   req.Description,
		Direction:     models.Direction(req.Direction),
		RequestedBy:   principal.ID,
		RequesterRole: principal.Role,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// Transfer moves funds from an owner account to a driver account. Owners
// always fund from their own account; administrators name the owner.
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req transferRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, h.log, services.ErrInvalidAmount)
		return
	}

	ownerID := req.FromOwnerID
	if principal.Role == models.RoleOwner {
		ownerID = principal.ID
	}
	if ownerID == "" {
		services.SendCodedError(w, "fromOwnerId is required", "INVALID_INPUT", http.StatusBadRequest, nil)
		return
	}

	from, err := h.accounts.GetAccount(r.Context(), models.OwnerTypeOwner, ownerID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	to, err := h.accounts.EnsureAccount(r.Context(), models.OwnerTypeDriver, req.DriverID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	debit, credit, err := h.ledger.Transfer(r.Context(), services.TransferRequest{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        amount,
		Description:   req.Description,
		RequestedBy:   principal.ID,
		RequesterRole: principal.Role,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"debit":  debit,
		"credit": credit,
	})
}

// accountFor resolves the account in the path. Owners and drivers may only
// read their own.
func (h *LedgerHandler) accountFor(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	principal, _ := mW.PrincipalFromContext(r.Context())
	ownerType := models.OwnerType(chi.URLParam(r, "type"))
	principalID := chi.URLParam(r, "principal")

	if !ownerType.Valid() {
		writeServiceError(w, h.log, services.ErrInvalidInput)
		return nil, false
	}
	if (principal.Role == models.RoleOwner || principal.Role == models.RoleDriver) &&
		(string(ownerType) != string(principal.Role) || principalID != principal.ID) {
		writeServiceError(w, h.log, services.ErrForbidden)
		return nil, false
	}

	account, err := h.accounts.GetAccount(r.Context(), ownerType, principalID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return nil, false
	}
	return account, true
}

// GetBalance returns an account with its current balance.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Statement pages through the entries of one account.
func (h *LedgerHandler) Statement(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	account, ok := h.accountFor(w, r)
	if !ok {
		return
	}

	result, err := h.ledger.ListEntries(r.Context(), account.ID, page)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
