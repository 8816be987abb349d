package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	gotID    string
}

func (s *stubLimiter) Allow(_ context.Context, identifier, _ string) (ratelimit.Decision, error) {
	s.gotID = identifier
	return s.decision, s.err
}

func TestRateLimit_TwentyFirstRequestThrottled(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{
		Policies: map[string]ratelimit.Policy{"signup": {Max: 20, Window: 60 * time.Second}},
	})
	rec := metrics.NewInMemory()
	handler := RateLimit(RateLimitConfig{
		Logger:  discardLogger(),
		Limiter: limiter,
		Metrics: rec,
		Enabled: true,
	}, "signup")(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/signup", nil)
		req.RemoteAddr = "203.0.113.5:51234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 20; i++ {
		if w := send(); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("21st status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
		RetryAfter *int `json:"retry_after"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Error.Code != CodeRateLimited {
		t.Errorf("body = %+v, want RATE_LIMITED", body)
	}
	if body.RetryAfter == nil || *body.RetryAfter < 0 {
		t.Errorf("retry_after = %v, want >= 0", body.RetryAfter)
	}

	if got := rec.Snapshot().RateLimitRejected["signup"]; got != 1 {
		t.Errorf("rejected counter = %d, want 1", got)
	}
}

func TestRateLimit_FailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	stub := &stubLimiter{
		decision: ratelimit.Decision{Allowed: true, Limit: 20, Remaining: 20},
		err:      errors.New("redis: connection refused"),
	}
	rec := metrics.NewInMemory()
	handler := RateLimit(RateLimitConfig{Logger: discardLogger(), Limiter: stub, Metrics: rec, Enabled: true}, "signup")(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/signup", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := rec.Snapshot().RateLimitStoreErrors["signup"]; got != 1 {
		t.Errorf("store error counter = %d, want 1", got)
	}
}

func TestRateLimit_UsesClientIP(t *testing.T) {
	t.Parallel()

	stub := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	handler := Identify(RateLimit(RateLimitConfig{Logger: discardLogger(), Limiter: stub, Enabled: true}, "verify")(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/verify", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if stub.gotID != "2001:db8::1" {
		t.Errorf("identifier = %q, want 2001:db8::1", stub.gotID)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	t.Parallel()

	stub := &stubLimiter{decision: ratelimit.Decision{Allowed: false}}
	handler := RateLimit(RateLimitConfig{Logger: discardLogger(), Limiter: stub, Enabled: false}, "signup")(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when disabled", w.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{2 * time.Minute, 120},
	}
	for _, tt := range tests {
		if got := RetryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
