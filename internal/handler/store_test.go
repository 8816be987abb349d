package handler

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the Postgres repository with the
// same upsert and conditional-update semantics.
type memStore struct {
	mu     sync.Mutex
	subs   map[string]*model.Subscriber // by email
	events []*model.AnalyticsEvent
	err    error
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]*model.Subscriber)}
}

func (s *memStore) UpsertSubscriber(_ context.Context, sub *model.Subscriber) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}

	existing, ok := s.subs[sub.Email]
	if !ok {
		cp := *sub
		s.subs[sub.Email] = &cp
		return true, nil
	}

	sub.ID = existing.ID
	sub.CreatedAt = existing.CreatedAt
	if existing.Status == model.StatusVerified {
		sub.Status = existing.Status
		sub.TokenHash = existing.TokenHash
		sub.TokenExpiresAt = existing.TokenExpiresAt
		sub.VerifiedAt = existing.VerifiedAt
	} else {
		sub.Status = model.StatusPending
	}
	cp := *sub
	s.subs[sub.Email] = &cp
	return false, nil
}

func (s *memStore) FindByTokenHash(_ context.Context, tokenHash string) (*model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.TokenHash == tokenHash {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, repository.ErrSubscriberNotFound
}

func (s *memStore) byID(id string) *model.Subscriber {
	for _, sub := range s.subs {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

func (s *memStore) MarkVerified(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.byID(id)
	if sub == nil || sub.Status != model.StatusPending || !now.Before(sub.TokenExpiresAt) {
		return false, nil
	}
	sub.Status = model.StatusVerified
	sub.VerifiedAt = &now
	return true, nil
}

func (s *memStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub := s.byID(id); sub != nil && sub.Status == model.StatusPending {
		sub.Status = model.StatusExpired
	}
	return nil
}

func (s *memStore) ListSubscribers(_ context.Context, filter repository.SubscriberFilter) ([]*model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*model.Subscriber
	for _, sub := range s.subs {
		if filter.Status == "" || sub.Status == filter.Status {
			cp := *sub
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Subscriber) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) CountByStatus(context.Context) (model.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.StatusCounts{}, s.err
	}
	var c model.StatusCounts
	for _, sub := range s.subs {
		switch sub.Status {
		case model.StatusPending:
			c.Pending++
		case model.StatusVerified:
			c.Verified++
		case model.StatusExpired:
			c.Expired++
		}
	}
	return c, nil
}

func (s *memStore) InsertAnalyticsEvent(_ context.Context, event *model.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) Events() []*model.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AnalyticsEvent(nil), s.events...)
}

func (s *memStore) Get(email string) *model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[email]; ok {
		cp := *sub
		return &cp
	}
	return nil
}
