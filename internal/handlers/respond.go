package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters only for readability; the sentinels are disjoint.
var errorTable = []errorMapping{
	{services.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{services.ErrProofRequired, http.StatusBadRequest, "PROOF_REQUIRED"},
	{services.ErrBadSecretFormat, http.StatusBadRequest, "BAD_SECRET_FORMAT"},
	{services.ErrMissingExpiry, http.StatusBadRequest, "MISSING_EXPIRY"},
	{services.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},

	{services.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{services.ErrAlreadyProcessed, http.StatusConflict, "ALREADY_PROCESSED"},
	{services.ErrAlreadyUsedByPrincipal, http.StatusConflict, "KEY_ALREADY_USED"},
	{services.ErrClosingNotOpen, http.StatusConflict, "CLOSING_NOT_OPEN"},
	{services.ErrPendingWorkExists, http.StatusConflict, "PENDING_WORK_EXISTS"},
	{services.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},

	{services.ErrWrongSecret, http.StatusUnauthorized, "WRONG_SECRET"},
	{services.ErrKeyExpired, http.StatusUnauthorized, "KEY_EXPIRED"},
	{services.ErrWrongPassword, http.StatusUnauthorized, "WRONG_PASSWORD"},
	{services.ErrNoKeyConfigured, http.StatusForbidden, "NO_KEY_CONFIGURED"},
	{services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
}

// statusFor maps a service error onto its HTTP status and machine code.
// Anything unknown is an opaque storage failure.
func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "STORAGE_FAILURE"
}

func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		services.SendCodedError(w, "internal error, please retry", code, status, nil)
		return
	}
	services.SendCodedError(w, strings.TrimPrefix(err.Error(), "treasury: "), code, status, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object into dst and validates it. On
// failure the response has been written and false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendCodedError(w, "Invalid request body", "INVALID_INPUT", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendCodedError(w, "Request body must only contain a single JSON object", "INVALID_INPUT", http.StatusBadRequest, nil)
		return false
	}

	if err := v.ValidateStruct(dst); err != nil {
		services.SendCodedError(w, "Validation failed", "INVALID_INPUT", http.StatusBadRequest, err)
		return false
	}
	return true
}

// parsePage reads page, pageSize, sortKey and sortDirection from the query.
// Range and sort key checks are left to the service listing.
func parsePage(r *http.Request) (models.Page, error) {
	q := r.URL.Query()
	page := models.Page{
		SortKey:       q.Get("sortKey"),
		SortDirection: q.Get("sortDirection"),
	}
	var err error
	if s := q.Get("page"); s != "" {
		if page.Page, err = strconv.Atoi(s); err != nil {
			return page, services.ErrInvalidInput
		}
	}
	if s := q.Get("pageSize"); s != "" {
		if page.PageSize, err = strconv.Atoi(s); err != nil {
			return page, services.ErrInvalidInput
		}
	}
	return page, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.ErrInvalidInput
	}
	return id, nil
}
