package handlers

import (
	"context"
	"net/http"

	"github.com/fleetpay/treasury/internal/services"
	"go.uber.org/zap"
)

type SessionAPI interface {
	Login(ctx context.Context, userID, password string) (*services.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

type AuthHandler struct {
	service   SessionAPI
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewAuthHandler(service SessionAPI, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

// Login handles user login
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} services.LoginResult
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.UserID, req.Password)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Logout blacklists the bearer token of the request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), r.Header.Get("Authorization")); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}
