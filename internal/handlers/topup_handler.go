package handlers

import (
	"context"
	"net/http"

	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TopupService interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.LedgerEntry, error)
	Approve(ctx context.Context, requestID int64, approver models.Principal) (*models.LedgerEntry, decimal.Decimal, error)
	Reject(ctx context.Context, requestID int64, approver models.Principal) (*models.LedgerEntry, error)
	ListPending(ctx context.Context, page models.Page) (*models.PageResult[models.LedgerEntry], error)
}

type TopupHandler struct {
	service   TopupService
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewTopupHandler(service TopupService, log *zap.Logger) *TopupHandler {
	return &TopupHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type submitTopupRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Method      string `json:"method" validate:"required,oneof=cash transfer deposit"`
	ProofRef    string `json:"proofRef" validate:"omitempty,max=255"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

// Submit files a pending top-up request against the caller's account
// @Summary Submit top-up request
// @Tags topups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body submitTopupRequest true "Top-up request"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Router /topups [post]
func (h *TopupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req submitTopupRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, h.log, services.ErrInvalidAmount)
		return
	}

	entry, err := h.service.Submit(r.Context(), services.SubmitRequest{
		Requester:   principal,
		Amount:      amount,
		Method:      models.PaymentMethod(req.Method),
		ProofRef:    req.ProofRef,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// ListPending returns the treasury approval queue
// @Summary List pending top-ups
// @Tags topups
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.PageResult[models.LedgerEntry]
// @Router /topups/pending [get]
func (h *TopupHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	result, err := h.service.ListPending(r.Context(), page)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Approve credits the request's target account
// @Summary Approve top-up
// @Tags topups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} object{entry=models.LedgerEntry,balance=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /topups/{id}/approve [post]
func (h *TopupHandler) Approve(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	entry, balance, err := h.service.Approve(r.Context(), id, principal)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entry":   entry,
		"balance": balance.StringFixed(2),
	})
}

// Reject closes the request without touching any balance
// @Summary Reject top-up
// @Tags topups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} models.LedgerEntry
// @Router /topups/{id}/reject [post]
func (h *TopupHandler) Reject(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	entry, err := h.service.Reject(r.Context(), id, principal)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
