package handlers

import (
	"context"
	"net/http"
	"time"

	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"go.uber.org/zap"
)

type AuthKeyAPI interface {
	SetKey(ctx context.Context, req services.SetKeyRequest) (*models.KeyStatus, error)
	Verify(ctx context.Context, candidate, principalID string) error
	Status(ctx context.Context) (*models.KeyStatus, error)
	Reveal(ctx context.Context, adminID, password string) (string, error)
	Clear(ctx context.Context, adminID, password string) error
}

type AuthKeyHandler struct {
	service   AuthKeyAPI
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewAuthKeyHandler(service AuthKeyAPI, log *zap.Logger) *AuthKeyHandler {
	return &AuthKeyHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type setKeyRequest struct {
	Password    string     `json:"password" validate:"required"`
	Secret      string     `json:"secret" validate:"required"`
	IsTemporary bool       `json:"isTemporary"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

type verifyKeyRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// SetKey replaces the authorization key
// @Summary Set authorization key
// @Tags authorization-key
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setKeyRequest true "New key"
// @Success 200 {object} models.KeyStatus
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /authorization-key [put]
func (h *AuthKeyHandler) SetKey(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req setKeyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	status, err := h.service.SetKey(r.Context(), services.SetKeyRequest{
		AdminID:     principal.ID,
		Password:    req.Password,
		Secret:      req.Secret,
		IsTemporary: req.IsTemporary,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *AuthKeyHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *AuthKeyHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req passwordRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	secret, err := h.service.Reveal(r.Context(), principal.ID, req.Password)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *AuthKeyHandler) Clear(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req passwordRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	if err := h.service.Clear(r.Context(), principal.ID, req.Password); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Verify checks a secret for the caller. A temporary key is consumed for
// the caller on success.
func (h *AuthKeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	principal, _ := mW.PrincipalFromContext(r.Context())

	var req verifyKeyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	if err := h.service.Verify(r.Context(), req.Secret, principal.ID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
