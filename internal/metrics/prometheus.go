package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waitlist"

// PrometheusRecorder exposes metrics to Prometheus.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	signupsTotal               *prometheus.CounterVec
	abuseReasonsTotal          *prometheus.CounterVec
	rateLimitDecisionsTotal    *prometheus.CounterVec
	rateLimitStoreErrorsTotal  *prometheus.CounterVec
	verificationsTotal         *prometheus.CounterVec
	upstreamFailuresTotal      *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	outboxDepth                prometheus.Gauge
	analyticsEventsTotal       *prometheus.CounterVec
}

// NewPrometheus registers collectors on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, labeled by method, route and code.",
		}, []string{"method", "route", "code"}),
		httpRequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		signupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Signup attempts, labeled by outcome.",
		}, []string{"outcome"}),
		abuseReasonsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abuse_reasons_total",
			Help:      "Abuse heuristics that fired, labeled by reason.",
		}, []string{"reason"}),
		rateLimitDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions, labeled by endpoint and decision.",
		}, []string{"endpoint", "decision"}),
		rateLimitStoreErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_store_errors_total",
			Help:      "Rate limiter store failures that were failed open.",
		}, []string{"endpoint"}),
		verificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Email verification attempts, labeled by result.",
		}, []string{"result"}),
		upstreamFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Failed calls to external collaborators.",
		}, []string{"collaborator"}),
		webhookDeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Automation webhook deliveries, labeled by status.",
		}, []string{"status"}),
		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "webhook_outbox_depth",
			Help:      "Deliveries parked in the outbox.",
		}),
		analyticsEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_total",
			Help:      "Analytics events, labeled by status.",
		}, []string{"status"}),
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncSignup increments the signup counter.
func (p *PrometheusRecorder) IncSignup(outcome string) {
	p.signupsTotal.WithLabelValues(outcome).Inc()
}

// IncAbuseReason increments the abuse reason counter.
func (p *PrometheusRecorder) IncAbuseReason(reason string) {
	p.abuseReasonsTotal.WithLabelValues(reason).Inc()
}

// IncRateLimit increments the rate limit decision counter.
func (p *PrometheusRecorder) IncRateLimit(endpoint string, allowed bool) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	p.rateLimitDecisionsTotal.WithLabelValues(endpoint, decision).Inc()
}

// IncRateLimitStoreError increments the store error counter.
func (p *PrometheusRecorder) IncRateLimitStoreError(endpoint string) {
	p.rateLimitStoreErrorsTotal.WithLabelValues(endpoint).Inc()
}

// IncVerification increments the verification counter.
func (p *PrometheusRecorder) IncVerification(result string) {
	p.verificationsTotal.WithLabelValues(result).Inc()
}

// IncUpstreamFailure increments the upstream failure counter.
func (p *PrometheusRecorder) IncUpstreamFailure(collaborator string) {
	p.upstreamFailuresTotal.WithLabelValues(collaborator).Inc()
}

// IncWebhookDelivery increments the webhook delivery counter.
func (p *PrometheusRecorder) IncWebhookDelivery(status string) {
	p.webhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// SetOutboxDepth sets the outbox gauge.
func (p *PrometheusRecorder) SetOutboxDepth(depth int64) {
	p.outboxDepth.Set(float64(depth))
}

// IncAnalyticsEvent increments the analytics counter.
func (p *PrometheusRecorder) IncAnalyticsEvent(status string) {
	p.analyticsEventsTotal.WithLabelValues(status).Inc()
}
