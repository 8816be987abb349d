package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthline/waitlist/internal/cache"
	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/model"
)

// Outbox parks deliveries for the retry worker. *cache.Outbox implements it.
type Outbox interface {
	Enqueue(ctx context.Context, entry cache.OutboxEntry, at time.Time) error
	Reschedule(ctx context.Context, entry cache.OutboxEntry, at time.Time) error
	Claim(ctx context.Context, now time.Time, limit int) ([]cache.OutboxEntry, error)
	Remove(ctx context.Context, id string) error
	Len(ctx context.Context) (int64, error)
}

// Outcome describes what happened to a published event.
type Outcome string

const (
	// OutcomeDelivered means the webhook accepted the event synchronously.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeQueued means delivery failed and the event waits in the outbox.
	OutcomeQueued Outcome = "queued"
	// OutcomeDropped means delivery failed and could not be parked.
	OutcomeDropped Outcome = "dropped"
	// OutcomeSkipped means no webhook is configured.
	OutcomeSkipped Outcome = "skipped"
)

// Publisher sends lead events, falling back to the outbox on failure.
type Publisher struct {
	deliverer *Deliverer
	outbox    Outbox
	backoff   Backoff
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewPublisher creates a Publisher. outbox may be nil, in which case failed
// deliveries are dropped after logging.
func NewPublisher(deliverer *Deliverer, outbox Outbox, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		deliverer: deliverer,
		outbox:    outbox,
		backoff:   DefaultBackoff(),
		logger:    logger.With("component", "webhook.publisher"),
		metrics:   recorder,
		now:       time.Now,
	}
}

// Publish attempts one synchronous delivery. The returned error explains a
// non-delivered outcome and is meant for logging only.
func (p *Publisher) Publish(ctx context.Context, event model.WebhookEvent) (Outcome, error) {
	if !p.deliverer.Configured() {
		return OutcomeSkipped, ErrNotConfigured
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return OutcomeDropped, fmt.Errorf("marshal event: %w", err)
	}

	sendErr := p.deliverer.Send(ctx, event.ID, string(event.Type), payload)
	if sendErr == nil {
		p.metrics.IncWebhookDelivery("success")
		return OutcomeDelivered, nil
	}
	p.metrics.IncWebhookDelivery("failed")

	if p.outbox == nil {
		p.metrics.IncWebhookDelivery("dropped")
		return OutcomeDropped, sendErr
	}

	now := p.now()
	entry := cache.OutboxEntry{
		ID:         event.ID,
		Event:      string(event.Type),
		Body:       payload,
		Attempts:   1,
		LastError:  sendErr.Error(),
		EnqueuedAt: now,
	}

	// The request context may already be done; parking must still happen.
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := p.outbox.Enqueue(parkCtx, entry, now.Add(p.backoff.Delay(1))); err != nil {
		p.metrics.IncWebhookDelivery("dropped")
		p.logger.Error("failed to park webhook delivery",
			"delivery_id", event.ID,
			"event", event.Type,
			"error", err,
		)
		return OutcomeDropped, errors.Join(sendErr, err)
	}

	p.metrics.IncWebhookDelivery("queued")
	return OutcomeQueued, sendErr
}
