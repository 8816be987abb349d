package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthline/waitlist/internal/cache"
	"github.com/hearthline/waitlist/internal/metrics"
)

const (
	// DefaultBatchSize is the number of deliveries to process per poll.
	DefaultBatchSize = 20
	// DefaultPollInterval is the time between outbox polls.
	DefaultPollInterval = 30 * time.Second
)

// Worker retries parked deliveries from the outbox.
type Worker struct {
	outbox       Outbox
	deliverer    *Deliverer
	backoff      Backoff
	logger       *slog.Logger
	metrics      metrics.Recorder
	batchSize    int
	pollInterval time.Duration
	now          func() time.Time
	started      bool
}

// NewWorker creates a new outbox worker.
func NewWorker(outbox Outbox, deliverer *Deliverer, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		outbox:       outbox,
		deliverer:    deliverer,
		backoff:      DefaultBackoff(),
		logger:       logger.With("component", "webhook.worker"),
		metrics:      recorder,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("webhook outbox worker started", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook outbox worker stopping")
			return nil
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// ProcessOnce claims and attempts one batch of due deliveries.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	entries, err := w.outbox.Claim(ctx, w.now(), w.batchSize)
	if err != nil {
		return fmt.Errorf("claim outbox entries: %w", err)
	}

	for _, entry := range entries {
		if err := w.deliver(ctx, entry); err != nil {
			w.logger.Warn("outbox bookkeeping failed",
				"delivery_id", entry.ID,
				"error", err,
			)
		}
	}

	if depth, err := w.outbox.Len(ctx); err == nil {
		w.metrics.SetOutboxDepth(depth)
	}

	return nil
}

func (w *Worker) deliver(ctx context.Context, entry cache.OutboxEntry) error {
	sendErr := w.deliverer.Send(ctx, entry.ID, entry.Event, entry.Body)
	if sendErr == nil {
		w.metrics.IncWebhookDelivery("success")
		w.logger.Info("parked webhook delivered",
			"delivery_id", entry.ID,
			"attempts", entry.Attempts+1,
		)
		return w.outbox.Remove(ctx, entry.ID)
	}

	entry.Attempts++
	entry.LastError = sendErr.Error()

	if w.backoff.Exhausted(entry.Attempts) {
		w.metrics.IncWebhookDelivery("exhausted")
		w.logger.Error("webhook delivery exhausted",
			"delivery_id", entry.ID,
			"event", entry.Event,
			"attempts", entry.Attempts,
			"error", sendErr,
		)
		return w.outbox.Remove(ctx, entry.ID)
	}

	w.metrics.IncWebhookDelivery("failed")
	next := w.now().Add(w.backoff.Delay(entry.Attempts))
	w.logger.Warn("webhook delivery failed",
		"delivery_id", entry.ID,
		"attempt", entry.Attempts,
		"next_attempt_at", next,
		"error", sendErr,
	)
	return w.outbox.Reschedule(ctx, entry, next)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}
