package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/repository"
)

// Result is the outcome of a verification attempt.
type Result string

const (
	ResultSuccess         Result = "success"
	ResultAlreadyVerified Result = "already_verified"
	ResultExpired         Result = "expired"
	ResultInvalid         Result = "invalid"
)

// Store is the persistence the state machine needs.
type Store interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Subscriber, error)
	// MarkVerified moves a pending, unexpired subscriber to verified and
	// reports whether this call performed the transition.
	MarkVerified(ctx context.Context, id string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) error
}

// Outcome carries the result and, when known, the subscriber.
type Outcome struct {
	Result     Result
	Subscriber *model.Subscriber
}

// OnVerified is called once per subscriber, after the transition commits.
type OnVerified func(ctx context.Context, sub *model.Subscriber)

// Service verifies tokens.
type Service struct {
	store      Store
	logger     *slog.Logger
	onVerified OnVerified
	now        func() time.Time
}

// NewService creates a Service. onVerified may be nil.
func NewService(store Store, logger *slog.Logger, onVerified OnVerified) *Service {
	return &Service{
		store:      store,
		logger:     logger.With("component", "verification"),
		onVerified: onVerified,
		now:        time.Now,
	}
}

// WithClock replaces the clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Verify consumes a raw token.
//
// pending + now < expiry  -> verified (success, side effects fire once)
// pending + now >= expiry -> expired
// verified                -> already_verified, no side effects
// expired                 -> expired
// unknown or malformed    -> invalid
//
// A returned error means the store failed; the result is then undefined.
func (s *Service) Verify(ctx context.Context, rawToken string) (Outcome, error) {
	if !WellFormed(rawToken) {
		return Outcome{Result: ResultInvalid}, nil
	}

	sub, err := s.store.FindByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrSubscriberNotFound) {
			return Outcome{Result: ResultInvalid}, nil
		}
		return Outcome{}, fmt.Errorf("find subscriber by token: %w", err)
	}

	switch sub.Status {
	case model.StatusVerified:
		return Outcome{Result: ResultAlreadyVerified, Subscriber: sub}, nil
	case model.StatusExpired:
		return Outcome{Result: ResultExpired, Subscriber: sub}, nil
	}

	now := s.now()
	if sub.TokenExpired(now) {
		if err := s.store.MarkExpired(ctx, sub.ID); err != nil {
			s.logger.Warn("failed to mark subscriber expired",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
		}
		sub.Status = model.StatusExpired
		return Outcome{Result: ResultExpired, Subscriber: sub}, nil
	}

	updated, err := s.store.MarkVerified(ctx, sub.ID, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark subscriber verified: %w", err)
	}
	if !updated {
		// Lost a race: another request verified it, or it expired between
		// the read and the conditional update.
		current, err := s.store.FindByTokenHash(ctx, sub.TokenHash)
		if err != nil {
			return Outcome{}, fmt.Errorf("reload subscriber: %w", err)
		}
		if current.IsVerified() {
			return Outcome{Result: ResultAlreadyVerified, Subscriber: current}, nil
		}
		return Outcome{Result: ResultExpired, Subscriber: current}, nil
	}

	sub.Status = model.StatusVerified
	sub.VerifiedAt = &now
	sub.UpdatedAt = now

	s.logger.Info("subscriber verified",
		slog.String("subscriber_id", sub.ID),
		slog.String("email_domain", model.EmailDomain(sub.Email)),
	)

	if s.onVerified != nil {
		s.onVerified(ctx, sub)
	}

	return Outcome{Result: ResultSuccess, Subscriber: sub}, nil
}
