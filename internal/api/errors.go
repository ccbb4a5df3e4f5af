package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
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
	ErrCodeUnavailable       = "service_unavailable"
	ErrCodeDeviceUnreachable = "device_unreachable"
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

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps bridge errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pioneer.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, pioneer.ErrConnectionFailed), errors.Is(err, pioneer.ErrNotReady):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUnreachable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// ackHTTPStatus picks the response status for a command ack. The body is
// always the ack itself.
func ackHTTPStatus(ack pioneer.AckMessage) int {
	if ack.Status == pioneer.AckAccepted {
		return http.StatusOK
	}
	if ack.Error == nil {
		return http.StatusInternalServerError
	}
	switch ack.Error.Code {
	case pioneer.ErrCodeNotConfigured:
		return http.StatusNotFound
	case pioneer.ErrCodeInvalidCommand, pioneer.ErrCodeInvalidParameters, pioneer.ErrCodeUnknownSource:
		return http.StatusUnprocessableEntity
	case pioneer.ErrCodeDeviceUnreachable:
		return http.StatusBadGateway
	case pioneer.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
