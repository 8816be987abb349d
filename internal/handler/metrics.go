package handler

import (
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/hearthline/waitlist/internal/metrics"
)

// MetricsHandler exposes in-memory metrics. Production deployments serve
// the Prometheus registry instead.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "waitlist_http_requests_total %d\n", snap.HTTPRequests)
	writeFamily(w, "waitlist_signups_total", "outcome", snap.Signups)
	writeFamily(w, "waitlist_abuse_reasons_total", "reason", snap.AbuseReasons)
	writeFamily(w, "waitlist_rate_limit_allowed_total", "endpoint", snap.RateLimitAllowed)
	writeFamily(w, "waitlist_rate_limit_rejected_total", "endpoint", snap.RateLimitRejected)
	writeFamily(w, "waitlist_rate_limit_store_errors_total", "endpoint", snap.RateLimitStoreErrors)
	writeFamily(w, "waitlist_verifications_total", "result", snap.Verifications)
	writeFamily(w, "waitlist_upstream_failures_total", "collaborator", snap.UpstreamFailures)
	writeFamily(w, "waitlist_webhook_deliveries_total", "status", snap.WebhookDeliveries)
	writeFamily(w, "waitlist_analytics_events_total", "status", snap.AnalyticsEvents)
	writeMetric(w, "waitlist_webhook_outbox_depth %d\n", snap.OutboxDepth)
}

func writeFamily(w http.ResponseWriter, name, label string, values map[string]uint64) {
	for _, k := range slices.Sorted(maps.Keys(values)) {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
