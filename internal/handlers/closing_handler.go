package handlers

import (
	"context"
	"net/http"
	"time"

	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ClosingAPI interface {
	PerformClosing(ctx context.Context, req services.PerformClosingRequest) (*models.ClosingResult, error)
	ListClosings(ctx context.Context, filter models.ClosingFilter) (*models.PageResult[models.Closing], error)
	GetClosing(ctx context.Context, id int64) (*models.Closing, error)
	ClosingEntries(ctx context.Context, id int64) ([]models.LedgerEntry, error)
	Reopen(ctx context.Context, id int64, admin models.Principal, reason string) (*models.Closing, int64, error)
	Adjust(ctx context.Context, id int64, admin models.Principal, amount decimal.Decimal, note string) (*models.Closing, error)
}

type ClosingHandler struct {
	service   ClosingAPI
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewClosingHandler(service ClosingAPI, log *zap.Logger) *ClosingHandler {
	return &ClosingHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type performClosingRequest struct {
	CountedAmount string `json:"countedAmount" validate:"required,nonneg_money"`
	Secret        string `json:"secret" validate:"required"`
	Note          string `json:"note" validate:"omitempty,max=500"`
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type adjustRequest struct {
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note" validate:"required,max=500"`
}

// Perform closes every approved top-up not yet in a closing
// @Summary Perform closing
// @Tags closings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body performClosingRequest true "Counted cash and authorization secret"
// @Success 201 {object} models.ClosingResult
// @Failure 401 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /closings [post]
func (h *ClosingHandler) Perform(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req performClosingRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.PerformClosing(r.Context(), services.PerformClosingRequest{
		CountedAmount: decimal.RequireFromString(req.CountedAmount),
		AuthSecret:    req.Secret,
		Principal:     principal,
		Note:          req.Note,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// List returns closing history. from and to are YYYY-MM-DD.
func (h *ClosingHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	q := r.URL.Query()
	filter := models.ClosingFilter{
		PerformedBy: q.Get("performedBy"),
		Page:        page,
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		day, err := time.Parse("2006-01-02", s)
		if err != nil {
			services.SendCodedError(w, name+" must be YYYY-MM-DD", "INVALID_INPUT", http.StatusBadRequest, nil)
			return
		}
		*dst = &day
	}

	result, err := h.service.ListClosings(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ClosingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	closing, err := h.service.GetClosing(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}

func (h *ClosingHandler) Entries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	entries, err := h.service.ClosingEntries(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// Reopen detaches a closing's entries so the next closing sweeps them again.
func (h *ClosingHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	var req reopenRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	closing, detached, err := h.service.Reopen(r.Context(), id, principal, req.Reason)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"closing":  closing,
		"detached": detached,
	})
}

func (h *ClosingHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	var req adjustRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, h.log, services.ErrInvalidAmount)
		return
	}

	closing, err := h.service.Adjust(r.Context(), id, principal, amount, req.Note)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}
