package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveHTTPRequest is a no-op.
func (n *NoopRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {}

// IncSignup is a no-op.
func (n *NoopRecorder) IncSignup(outcome string) {}

// IncAbuseReason is a no-op.
func (n *NoopRecorder) IncAbuseReason(reason string) {}

// IncRateLimit is a no-op.
func (n *NoopRecorder) IncRateLimit(endpoint string, allowed bool) {}

// IncRateLimitStoreError is a no-op.
func (n *NoopRecorder) IncRateLimitStoreError(endpoint string) {}

// IncVerification is a no-op.
func (n *NoopRecorder) IncVerification(result string) {}

// IncUpstreamFailure is a no-op.
func (n *NoopRecorder) IncUpstreamFailure(collaborator string) {}

// IncWebhookDelivery is a no-op.
func (n *NoopRecorder) IncWebhookDelivery(status string) {}

// SetOutboxDepth is a no-op.
func (n *NoopRecorder) SetOutboxDepth(depth int64) {}

// IncAnalyticsEvent is a no-op.
func (n *NoopRecorder) IncAnalyticsEvent(status string) {}
