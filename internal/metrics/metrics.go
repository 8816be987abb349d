// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Signup outcomes.
const (
	SignupAccepted   = "accepted"
	SignupQueued     = "queued"
	SignupInvalid    = "invalid"
	SignupHoneypot   = "honeypot"
	SignupThrottled  = "rate_limited"
	SignupForbidden  = "forbidden"
	SignupMalformed  = "malformed"
	SignupSuspicious = "suspicious"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// HTTP
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)

	// Signup pipeline
	IncSignup(outcome string)
	IncAbuseReason(reason string)
	IncRateLimit(endpoint string, allowed bool)
	IncRateLimitStoreError(endpoint string)

	// Verification
	IncVerification(result string)

	// Collaborators
	IncUpstreamFailure(collaborator string)
	IncWebhookDelivery(status string) // "success", "failed", "queued", "dropped", "exhausted"
	SetOutboxDepth(depth int64)

	// Analytics
	IncAnalyticsEvent(status string) // "accepted", "invalid", "dropped"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
