// Package service provides business logic for the application.
package service

import (
	"errors"
	"fmt"
	"time"
)

// CodeInvalidRequest is returned for malformed or out-of-range fields.
const CodeInvalidRequest = "INVALID_REQUEST"

// ValidationError is a rejection the client can fix. Code is one of the
// validation codes or CodeInvalidRequest.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AbuseRejection means the request tripped a hard bot check. Callers must
// answer as if the signup succeeded, using DecoyID.
type AbuseRejection struct {
	Reasons []string
	DecoyID string
}

func (e *AbuseRejection) Error() string {
	return fmt.Sprintf("signup rejected as abuse: %v", e.Reasons)
}

// RateLimitExceeded is returned when an admission policy throttles the caller.
type RateLimitExceeded struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Endpoint, e.RetryAfter)
}

// UpstreamUnavailable wraps a collaborator failure. It is logged, never
// surfaced to signup callers.
type UpstreamUnavailable struct {
	Collaborator string
	Err          error
}

func (e *UpstreamUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *UpstreamUnavailable) Unwrap() error { return e.Err }

// ErrConfigurationMissing marks a collaborator that is not configured.
var ErrConfigurationMissing = errors.New("configuration missing")

// ConfigurationMissing names the missing setting.
type ConfigurationMissing struct {
	Setting string
}

func (e *ConfigurationMissing) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigurationMissing, e.Setting)
}

func (e *ConfigurationMissing) Is(target error) bool {
	return target == ErrConfigurationMissing
}

func invalidRequest(format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}
