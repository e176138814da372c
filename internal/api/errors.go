package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/relaysync/internal/actuator"
	"github.com/nerrad567/relaysync/internal/orchestrator"
	"github.com/nerrad567/relaysync/internal/transport"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeDeviceUnreachable = "device_unreachable"
	ErrCodeTimeout           = "timeout"
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

// writeValidationError writes a 400 validation error response.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps a device command error to its HTTP response.
// This is the only place domain errors become status codes.
func (s *Server) writeDeviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrDeviceNotFound), errors.Is(err, transport.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, transport.ErrDeviceUnreachable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable, "device unreachable over local and cloud transports")
	case errors.Is(err, actuator.ErrInvalidTarget):
		writeValidationError(w, "value must be between 0 and 100")
	case errors.Is(err, orchestrator.ErrNotActuator):
		writeValidationError(w, "device does not accept position targets")
	case errors.Is(err, orchestrator.ErrNotSwitch):
		writeValidationError(w, "device has no switchable channels")
	case errors.Is(err, orchestrator.ErrInvalidChannel):
		writeValidationError(w, "channel out of range")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "command timed out")
	default:
		s.logger.Error("device command failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "command failed")
	}
}
