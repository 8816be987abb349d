package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthline/waitlist/internal/crm"
	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/verification"
)

// VerifiedHook returns the side effects of a successful verification: a
// lead.verified event to the automation webhook and a CRM update. Both are
// dispatched, so the redirect never waits on them.
func VerifiedHook(
	dispatcher Dispatcher,
	publisher EventPublisher,
	client crm.Client,
	timeout time.Duration,
	logger *slog.Logger,
) verification.OnVerified {
	if client == nil {
		client = crm.Noop{}
	}
	logger = logger.With("component", "verified_hook")

	return func(_ context.Context, sub *model.Subscriber) {
		if dispatcher == nil {
			return
		}
		snapshot := *sub
		at := time.Now()
		if sub.VerifiedAt != nil {
			at = *sub.VerifiedAt
		}

		if publisher != nil {
			event := model.NewLeadEvent(ulid.Make().String(), model.EventLeadVerified, &snapshot, at)
			if err := dispatcher.Go("webhook", timeout, func(ctx context.Context) error {
				_, err := publisher.Publish(ctx, event)
				return err
			}); err != nil {
				logger.Warn("lead.verified not dispatched", "subscriber_id", sub.ID, "error", err)
			}
		}

		if err := dispatcher.Go("crm", timeout, func(ctx context.Context) error {
			return client.UpsertLead(ctx, &snapshot)
		}); err != nil {
			logger.Warn("crm update not dispatched", "subscriber_id", sub.ID, "error", err)
		}
	}
}
