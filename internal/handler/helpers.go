package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/repository"
	"github.com/tutorlink/internal/service"
)

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses and stable error
// codes. Unrecognized errors become 500 without leaking detail.
func writeServiceError(w http.ResponseWriter, err error) {
	var rl *admission.RateLimitError
	switch {
	case errors.As(err, &rl):
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "rate limit exceeded",
			Code:       "RATE_LIMIT_EXCEEDED",
			RetryAfter: secs,
		})
	case errors.Is(err, service.ErrThreadLocked):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "thread is locked", Code: "THREAD_LOCKED"})
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
	case errors.Is(err, service.ErrDeleted):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "message is deleted", Code: "VALIDATION_FAILED"})
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, membership.ErrNotParticipant):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "permission denied", Code: "PERMISSION_DENIED"})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "NOT_FOUND"})
	default:
		logger.Errorf("handler internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
