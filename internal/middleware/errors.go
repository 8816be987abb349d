package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Error codes written by middleware.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeServerError     = "SERVER_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success    bool      `json:"success"`
	Error      errorBody `json:"error"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, status int, env errorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below zero.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// WriteRateLimited writes a 429 envelope with retry_after and a Retry-After
// header.
func WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeEnvelope(w, http.StatusTooManyRequests, errorEnvelope{
		Error: errorBody{
			Code:    CodeRateLimited,
			Message: "Too many requests. Please try again later.",
		},
		RetryAfter: &secs,
	})
}
