package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error       string `json:"error"`                  // Machine-readable error code
	Message     string `json:"message"`                // Human-readable message
	WaitSeconds int    `json:"wait_seconds,omitempty"` // Present on rate-limited rejections
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteRateLimited writes a 429 with the wait surfaced both in the body
// and as a Retry-After header. The message never names the key that
// tripped the limit.
func WriteRateLimited(w http.ResponseWriter, message string, retryAfter time.Duration) {
	waitSeconds := int(retryAfter.Round(time.Second).Seconds())
	if waitSeconds < 1 {
		waitSeconds = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(waitSeconds))
	w.WriteHeader(http.StatusTooManyRequests)

	resp := ErrorResponse{
		Error:       "rate_limit_exceeded",
		Message:     message,
		WaitSeconds: waitSeconds,
	}

	_ = json.NewEncoder(w).Encode(resp)
}
