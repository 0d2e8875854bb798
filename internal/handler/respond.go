package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yourorg/cliniccore/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps sentinel errors onto HTTP statuses. Unrecognized
// errors become an opaque 500; the cause goes to the log, not the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrTenantNotSpecified):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTenantNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSlugTaken), errors.Is(err, domain.ErrEmailRegistered):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSlugExhausted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPlanNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// clientIP returns the caller address for per-IP rate limiting. The
// service is expected to run behind a trusted proxy that sets
// X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
