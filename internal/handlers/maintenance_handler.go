package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"go.uber.org/zap"
)

type MaintenanceAPI interface {
	PurgeOld(ctx context.Context, cutoffAge time.Duration) (*models.PurgeProgress, error)
	Progress(ctx context.Context) (*models.PurgeProgress, error)
}

type MaintenanceHandler struct {
	service       MaintenanceAPI
	defaultCutoff time.Duration
	validator     *services.ValidationHelper
	log           *zap.Logger
}

func NewMaintenanceHandler(service MaintenanceAPI, defaultCutoff time.Duration, log *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		service:       service,
		defaultCutoff: defaultCutoff,
		validator:     services.NewValidationHelper(),
		log:           log,
	}
}

type purgeRequest struct {
	CutoffAgeDays int `json:"cutoffAgeDays" validate:"omitempty,gte=1,lte=3650"`
}

// Purge runs one purge batch. An empty body uses the configured cutoff age.
func (h *MaintenanceHandler) Purge(w http.ResponseWriter, r *http.Request) {
	cutoff := h.defaultCutoff
	if r.ContentLength != 0 {
		var req purgeRequest
		if !decodeJSON(w, r, h.validator, &req) {
			return
		}
		if req.CutoffAgeDays > 0 {
			cutoff = time.Duration(req.CutoffAgeDays) * 24 * time.Hour
		}
	}

	progress, err := h.service.PurgeOld(r.Context(), cutoff)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *MaintenanceHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Progress(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
