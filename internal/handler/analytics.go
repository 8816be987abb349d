package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hearthline/waitlist/internal/analytics"
	"github.com/hearthline/waitlist/internal/dispatch"
	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/middleware"
	"github.com/hearthline/waitlist/internal/model"
)

// AnalyticsStore persists analytics events.
type AnalyticsStore interface {
	InsertAnalyticsEvent(ctx context.Context, event *model.AnalyticsEvent) error
}

// TaskRunner runs fire-and-forget work. *dispatch.Dispatcher implements it.
type TaskRunner interface {
	Go(name string, timeout time.Duration, task dispatch.Task) error
}

// AnalyticsHandler serves POST /api/analytics.
type AnalyticsHandler struct {
	store   AnalyticsStore
	tasks   TaskRunner
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewAnalyticsHandler creates a new AnalyticsHandler. A nil store accepts
// and discards events.
func NewAnalyticsHandler(store AnalyticsStore, tasks TaskRunner, timeout time.Duration, logger *slog.Logger, recorder metrics.Recorder) *AnalyticsHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AnalyticsHandler{
		store:   store,
		tasks:   tasks,
		timeout: timeout,
		logger:  logger.With("component", "handler.analytics"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Ingest handles POST /api/analytics. Responses carry no body: 204 on
// acceptance, 400 on a bad payload.
func (h *AnalyticsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var payload analytics.EventPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.metrics.IncAnalyticsEvent("invalid")
		if errors.Is(err, errBodyTooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	now := h.now()
	if err := analytics.ValidateEventPayload(payload, now); err != nil {
		h.metrics.IncAnalyticsEvent("invalid")
		h.logger.Debug("analytics event rejected",
			"reason", err.Error(),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := analytics.NewEvent(payload, middleware.ClientIP(r), r.UserAgent(), now)
	if h.store == nil || h.tasks == nil {
		h.metrics.IncAnalyticsEvent("dropped")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err := h.tasks.Go("analytics", h.timeout, func(ctx context.Context) error {
		return h.store.InsertAnalyticsEvent(ctx, event)
	})
	if err != nil {
		h.metrics.IncAnalyticsEvent("dropped")
	} else {
		h.metrics.IncAnalyticsEvent("accepted")
	}

	w.WriteHeader(http.StatusNoContent)
}
