package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore mimics the conditional UPDATE under a mutex.
type fakeStore struct {
	mu       sync.Mutex
	byHash   map[string]*model.Subscriber
	findErr  error
	markErr  error
	expired  int
	verified int
}

func newFakeStore(subs ...*model.Subscriber) *fakeStore {
	s := &fakeStore{byHash: map[string]*model.Subscriber{}}
	for _, sub := range subs {
		s.byHash[sub.TokenHash] = sub
	}
	return s
}

func (s *fakeStore) FindByTokenHash(_ context.Context, hash string) (*model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	sub, ok := s.byHash[hash]
	if !ok {
		return nil, repository.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) MarkVerified(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	for _, sub := range s.byHash {
		if sub.ID == id && sub.Status == model.StatusPending && now.Before(sub.TokenExpiresAt) {
			sub.Status = model.StatusVerified
			sub.VerifiedAt = &now
			s.verified++
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.byHash {
		if sub.ID == id && sub.Status == model.StatusPending {
			sub.Status = model.StatusExpired
			s.expired++
		}
	}
	return nil
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pendingWithToken(t *testing.T) (*model.Subscriber, string) {
	t.Helper()
	tok, err := NewToken(baseTime, DefaultTTL)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	return &model.Subscriber{
		ID:             "01JSUB",
		Email:          "ada@example.com",
		Status:         model.StatusPending,
		TokenHash:      tok.Hash,
		TokenExpiresAt: tok.ExpiresAt,
	}, tok.Raw
}

func TestNewToken(t *testing.T) {
	t.Parallel()

	tok, err := NewToken(baseTime, time.Hour)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	if len(tok.Raw) != TokenLength || !WellFormed(tok.Raw) {
		t.Errorf("Raw = %q, want %d lowercase hex chars", tok.Raw, TokenLength)
	}
	if tok.Hash == tok.Raw || tok.Hash != HashToken(tok.Raw) {
		t.Error("Hash should be the SHA-256 of Raw")
	}
	if !tok.ExpiresAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", tok.ExpiresAt)
	}

	other, _ := NewToken(baseTime, time.Hour)
	if other.Raw == tok.Raw {
		t.Error("tokens should be unique")
	}
}

func TestWellFormed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"valid", strings.Repeat("ab", 32), true},
		{"empty", "", false},
		{"short", strings.Repeat("a", 63), false},
		{"uppercase", strings.Repeat("AB", 32), false},
		{"non hex", strings.Repeat("zz", 32), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WellFormed(tt.raw); got != tt.want {
				t.Errorf("WellFormed(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestVerify_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     model.VerificationStatus
		at         time.Time
		want       Result
		wantStatus model.VerificationStatus
		wantFired  int32
	}{
		{"pending before expiry", model.StatusPending, baseTime.Add(DefaultTTL - time.Nanosecond), ResultSuccess, model.StatusVerified, 1},
		{"pending at expiry", model.StatusPending, baseTime.Add(DefaultTTL), ResultExpired, model.StatusExpired, 0},
		{"pending after expiry", model.StatusPending, baseTime.Add(DefaultTTL + time.Hour), ResultExpired, model.StatusExpired, 0},
		{"already verified", model.StatusVerified, baseTime.Add(time.Hour), ResultAlreadyVerified, model.StatusVerified, 0},
		{"already expired", model.StatusExpired, baseTime.Add(time.Hour), ResultExpired, model.StatusExpired, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub, raw := pendingWithToken(t)
			sub.Status = tt.status
			store := newFakeStore(sub)

			var fired atomic.Int32
			svc := NewService(store, discardLogger(), func(context.Context, *model.Subscriber) {
				fired.Add(1)
			}).WithClock(func() time.Time { return tt.at })

			out, err := svc.Verify(context.Background(), raw)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if out.Result != tt.want {
				t.Errorf("Result = %s, want %s", out.Result, tt.want)
			}
			if got := store.byHash[sub.TokenHash].Status; got != tt.wantStatus {
				t.Errorf("stored status = %s, want %s", got, tt.wantStatus)
			}
			if fired.Load() != tt.wantFired {
				t.Errorf("onVerified fired %d times, want %d", fired.Load(), tt.wantFired)
			}
		})
	}
}

func TestVerify_SecondAttemptIsIdempotent(t *testing.T) {
	t.Parallel()

	sub, raw := pendingWithToken(t)
	store := newFakeStore(sub)
	var fired atomic.Int32
	svc := NewService(store, discardLogger(), func(context.Context, *model.Subscriber) { fired.Add(1) }).
		WithClock(func() time.Time { return baseTime.Add(time.Minute) })

	first, _ := svc.Verify(context.Background(), raw)
	second, _ := svc.Verify(context.Background(), raw)

	if first.Result != ResultSuccess || second.Result != ResultAlreadyVerified {
		t.Fatalf("results = %s, %s; want success, already_verified", first.Result, second.Result)
	}
	if fired.Load() != 1 {
		t.Errorf("onVerified fired %d times, want 1", fired.Load())
	}
}

func TestVerify_ConcurrentAttemptsFireOnce(t *testing.T) {
	t.Parallel()

	sub, raw := pendingWithToken(t)
	store := newFakeStore(sub)
	var fired atomic.Int32
	svc := NewService(store, discardLogger(), func(context.Context, *model.Subscriber) { fired.Add(1) }).
		WithClock(func() time.Time { return baseTime.Add(time.Minute) })

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Verify(context.Background(), raw)
			if err != nil {
				t.Errorf("Verify() error = %v", err)
				return
			}
			switch out.Result {
			case ResultSuccess:
				successes.Add(1)
			case ResultAlreadyVerified:
			default:
				t.Errorf("unexpected result %s", out.Result)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || fired.Load() != 1 {
		t.Errorf("successes=%d fired=%d, want 1 and 1", successes.Load(), fired.Load())
	}
}

func TestVerify_Invalid(t *testing.T) {
	t.Parallel()

	sub, _ := pendingWithToken(t)
	svc := NewService(newFakeStore(sub), discardLogger(), nil)

	for _, raw := range []string{"", "not-a-token", strings.Repeat("0", TokenLength)} {
		out, err := svc.Verify(context.Background(), raw)
		if err != nil {
			t.Fatalf("Verify(%q) error = %v", raw, err)
		}
		if out.Result != ResultInvalid {
			t.Errorf("Verify(%q) = %s, want invalid", raw, out.Result)
		}
	}
}

func TestVerify_StoreError(t *testing.T) {
	t.Parallel()

	sub, raw := pendingWithToken(t)
	boom := errors.New("db down")

	store := newFakeStore(sub)
	store.findErr = boom
	svc := NewService(store, discardLogger(), nil)
	if _, err := svc.Verify(context.Background(), raw); !errors.Is(err, boom) {
		t.Errorf("find error = %v, want wrapped db error", err)
	}

	store = newFakeStore(sub)
	store.markErr = boom
	svc = NewService(store, discardLogger(), nil).WithClock(func() time.Time { return baseTime })
	if _, err := svc.Verify(context.Background(), raw); !errors.Is(err, boom) {
		t.Errorf("mark error = %v, want wrapped db error", err)
	}
}
