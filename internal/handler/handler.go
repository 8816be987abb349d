// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hearthline/waitlist/internal/middleware"
)

// Error codes written by handlers. Validation codes come from the
// validation package.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeMethodNotAllow = "METHOD_NOT_ALLOWED"
	CodeServerError    = middleware.CodeServerError
	CodeRateLimited    = middleware.CodeRateLimited
	CodeTooLarge       = middleware.CodePayloadTooLarge
)

// Handler serves the fallback routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllow, "method not allowed")
}

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the response shape of the public API.
type Envelope struct {
	Success    bool       `json:"success"`
	ID         string     `json:"id,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
	RetryAfter *int       `json:"retry_after,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := middleware.RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, Envelope{
		Error: &ErrorBody{
			Code:    CodeRateLimited,
			Message: "Too many requests. Please try again later.",
		},
		RetryAfter: &secs,
	})
}

// errBodyTooLarge is returned by decodeJSON when MaxBodySize cut the body.
var errBodyTooLarge = errors.New("request body too large")

// decodeJSON decodes a single JSON object into dst and rejects trailing
// data. Unknown fields are ignored so older forms keep working.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
