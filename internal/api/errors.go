package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kwilde42/shadow-core/internal/shadow"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeInvalidState = "invalid_state"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError translates shadow service errors into HTTP responses.
//
// The mapping follows the service's error taxonomy:
//   - ErrNotFound      → 404 not_found
//   - ErrExists        → 409 conflict
//   - ErrConflict      → 409 conflict (CAS retries exhausted)
//   - ErrInvalidState  → 400 invalid_state
//   - anything else    → 500 internal_error
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shadow.ErrNotFound):
		writeNotFound(w, "shadow not found")
	case errors.Is(err, shadow.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "shadow already exists")
	case errors.Is(err, shadow.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, "concurrent update conflict, retry")
	case errors.Is(err, shadow.ErrInvalidState):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidState, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
