package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"meditoken/internal/store"
)

// syncErrorHeader carries a clinic's last read failure on list responses.
const syncErrorHeader = "X-Sync-Error"

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", invalidInputMessage(err)
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrTenantNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrCabinNotFound):
		return http.StatusNotFound, "cabin_not_found", "cabin not found"
	case errors.Is(err, store.ErrDoctorNotFound):
		return http.StatusNotFound, "doctor_not_found", "doctor not found"
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found", "account not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "token state does not allow this action"
	case errors.Is(err, store.ErrCabinOccupied):
		return http.StatusConflict, "cabin_occupied", "cabin is occupied by another doctor"
	case errors.Is(err, store.ErrNoActiveCabin):
		return http.StatusConflict, "no_active_cabin", "doctor has no active cabin"
	case errors.Is(err, store.ErrDuplicateToken):
		return http.StatusConflict, "duplicate_token", "token number already issued, retry"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "store did not answer in time"
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry later"
	case errors.Is(err, store.ErrStoreWriteFailed):
		return http.StatusBadGateway, "store_write_failed", "store rejected the write"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// invalidInputMessage keeps the validation detail wrapped around
// ErrInvalidInput, e.g. "phone must have at least 10 digits".
func invalidInputMessage(err error) string {
	msg := err.Error()
	prefix := store.ErrInvalidInput.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}
