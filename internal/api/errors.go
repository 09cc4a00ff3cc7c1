package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hyperion-bridge/internal/bridges/hyperion"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeTransport      = "transport_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeDecodeFailed   = "decode_failed"
)

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
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

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeHyperionError maps a client error to an HTTP status.
func writeHyperionError(w http.ResponseWriter, err error) {
	status, code := hyperionErrorStatus(err)
	writeError(w, status, code, err.Error())
}

func hyperionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, hyperion.ErrNotConnected):
		return http.StatusServiceUnavailable, ErrCodeNotConnected
	case errors.Is(err, hyperion.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, hyperion.ErrTransport), errors.Is(err, hyperion.ErrConnectionFailed):
		return http.StatusBadGateway, ErrCodeTransport
	case errors.Is(err, hyperion.ErrInvalidCommand), errors.Is(err, hyperion.ErrFrameTooLarge):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, hyperion.ErrAlreadyConnected), errors.Is(err, hyperion.ErrConnectInProgress):
		return http.StatusConflict, ErrCodeConflict
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDecodeFailure reports a reply that was not valid JSON.
func writeDecodeFailure(w http.ResponseWriter, resp hyperion.Response) {
	writeJSON(w, http.StatusBadGateway, Error{
		Status:  http.StatusBadGateway,
		Code:    ErrCodeDecodeFailed,
		Message: resp.Err.Error(),
		Raw:     resp.Raw,
	})
}
