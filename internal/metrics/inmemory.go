package metrics

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests         uint64
	Signups              map[string]uint64
	AbuseReasons         map[string]uint64
	RateLimitAllowed     map[string]uint64
	RateLimitRejected    map[string]uint64
	RateLimitStoreErrors map[string]uint64
	Verifications        map[string]uint64
	UpstreamFailures     map[string]uint64
	WebhookDeliveries    map[string]uint64
	AnalyticsEvents      map[string]uint64
	OutboxDepth          int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	httpRequests uint64
	outboxDepth  int64

	mu       sync.Mutex
	counters map[string]map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{counters: make(map[string]map[string]uint64)}
}

func (m *InMemoryRecorder) inc(family, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[family]
	if !ok {
		c = make(map[string]uint64)
		m.counters[family] = c
	}
	c[label]++
}

func (m *InMemoryRecorder) copyFamily(family string) map[string]uint64 {
	out := make(map[string]uint64, len(m.counters[family]))
	for k, v := range m.counters[family] {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		HTTPRequests:         atomic.LoadUint64(&m.httpRequests),
		Signups:              m.copyFamily("signup"),
		AbuseReasons:         m.copyFamily("abuse"),
		RateLimitAllowed:     m.copyFamily("ratelimit_allowed"),
		RateLimitRejected:    m.copyFamily("ratelimit_rejected"),
		RateLimitStoreErrors: m.copyFamily("ratelimit_store_error"),
		Verifications:        m.copyFamily("verification"),
		UpstreamFailures:     m.copyFamily("upstream_failure"),
		WebhookDeliveries:    m.copyFamily("webhook"),
		AnalyticsEvents:      m.copyFamily("analytics"),
		OutboxDepth:          atomic.LoadInt64(&m.outboxDepth),
	}
}

// ObserveHTTPRequest counts the request.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
	m.inc("http", method+" "+route+" "+strconv.Itoa(status))
}

// IncSignup increments the signup counter for outcome.
func (m *InMemoryRecorder) IncSignup(outcome string) {
	m.inc("signup", outcome)
}

// IncAbuseReason increments the counter for a heuristic reason.
func (m *InMemoryRecorder) IncAbuseReason(reason string) {
	m.inc("abuse", reason)
}

// IncRateLimit increments the allowed or rejected counter for endpoint.
func (m *InMemoryRecorder) IncRateLimit(endpoint string, allowed bool) {
	if allowed {
		m.inc("ratelimit_allowed", endpoint)
		return
	}
	m.inc("ratelimit_rejected", endpoint)
}

// IncRateLimitStoreError increments the fail-open counter for endpoint.
func (m *InMemoryRecorder) IncRateLimitStoreError(endpoint string) {
	m.inc("ratelimit_store_error", endpoint)
}

// IncVerification increments the verification counter for result.
func (m *InMemoryRecorder) IncVerification(result string) {
	m.inc("verification", result)
}

// IncUpstreamFailure increments the failure counter for collaborator.
func (m *InMemoryRecorder) IncUpstreamFailure(collaborator string) {
	m.inc("upstream_failure", collaborator)
}

// IncWebhookDelivery increments the webhook counter for status.
func (m *InMemoryRecorder) IncWebhookDelivery(status string) {
	m.inc("webhook", status)
}

// SetOutboxDepth records the outbox size.
func (m *InMemoryRecorder) SetOutboxDepth(depth int64) {
	atomic.StoreInt64(&m.outboxDepth, depth)
}

// IncAnalyticsEvent increments the analytics counter for status.
func (m *InMemoryRecorder) IncAnalyticsEvent(status string) {
	m.inc("analytics", status)
}
