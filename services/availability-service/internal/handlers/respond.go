package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidyslot/tidyslot/libs/httpx"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
)

const (
	maxBodyBytes      = 1 << 20
	defaultRetryAfter = 30 * time.Second
	msgDegraded       = "availability temporarily unavailable"
	msgInternal       = "internal error"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP. Anything unclassified is an
// infrastructure failure and its detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, retryAfter time.Duration, err error) {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		conflict   *apperr.ConflictError
		degraded   *apperr.DegradedAvailabilityError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Reason, Field: validation.Field})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound.Resource + " not found"})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: conflict.Reason})
	case errors.As(err, &degraded):
		logger.Warn("availability degraded",
			"owner_id", degraded.OwnerID,
			"source", degraded.Source,
			"err", degraded.Err,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgDegraded})
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}

// parseInstant reads an RFC 3339 timestamp; the offset is required so the
// instant is unambiguous.
func parseInstant(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Validation(field, "is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func formatInstant(t time.Time) string {
	return t.Format(time.RFC3339)
}
