// Package ratelimit implements fixed-window request counting with
// progressive penalties for repeat offenders.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEndpoint is returned when no policy is registered for an endpoint.
var ErrUnknownEndpoint = errors.New("no rate limit policy for endpoint")

// Endpoint names with registered policies.
const (
	EndpointSignup           = "signup"
	EndpointSignupSuspicious = "signup_suspicious"
	EndpointVerify           = "verify"
	EndpointAnalytics        = "analytics"
)

// DefaultMaxBackoff caps penalties when Config.MaxBackoff is unset.
const DefaultMaxBackoff = time.Hour

// Record is the per (identifier, endpoint) limiter state.
type Record struct {
	Count         int64
	WindowStart   time.Time
	Violations    int
	PenaltyUntil  time.Time
	LastViolation time.Time
}

// Store persists limiter records. Implementations may be remote and are not
// required to make Get followed by Put atomic.
type Store interface {
	// Get returns the record for key, or nil when none exists.
	Get(ctx context.Context, key string) (*Record, error)
	// Put writes the record and expires it after ttl.
	Put(ctx context.Context, key string, rec *Record, ttl time.Duration) error
}

// Policy bounds requests per window for one endpoint.
type Policy struct {
	Max    int64
	Window time.Duration
}

// Config configures a Limiter.
type Config struct {
	Policies map[string]Policy
	// Multiplier scales the penalty for each consecutive violation.
	Multiplier int
	// MaxBackoff caps the penalty period. Defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Violations int
}

// Limiter decides whether a request may proceed.
type Limiter struct {
	store      Store
	policies   map[string]Policy
	multiplier int
	maxBackoff time.Duration
	now        func() time.Time
}

// New creates a Limiter backed by store.
func New(store Store, cfg Config) *Limiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	policies := make(map[string]Policy, len(cfg.Policies))
	for k, v := range cfg.Policies {
		policies[k] = v
	}
	return &Limiter{
		store:      store,
		policies:   policies,
		multiplier: mult,
		maxBackoff: maxBackoff,
		now:        now,
	}
}

// Policy returns the policy registered for endpoint.
func (l *Limiter) Policy(endpoint string) (Policy, bool) {
	p, ok := l.policies[endpoint]
	return p, ok
}

// Allow records one request from identifier against endpoint.
//
// When the store fails, Allow returns an allowing Decision together with the
// error so callers can log it; the request must not be rejected.
func (l *Limiter) Allow(ctx context.Context, identifier, endpoint string) (Decision, error) {
	policy, ok := l.policies[endpoint]
	if !ok {
		return Decision{Allowed: true}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	if policy.Max <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true, Limit: policy.Max}, nil
	}

	key := Key(endpoint, identifier)
	now := l.now()

	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return l.failOpen(policy, now), fmt.Errorf("get rate limit record: %w", err)
	}

	decision := l.step(rec, policy, now)

	if err := l.store.Put(ctx, key, decision.record, l.ttl(policy, decision.record, now)); err != nil {
		return l.failOpen(policy, now), fmt.Errorf("put rate limit record: %w", err)
	}

	return decision.Decision, nil
}

type stepResult struct {
	Decision
	record *Record
}

// step advances the state machine for one request. It never mutates prev.
func (l *Limiter) step(prev *Record, policy Policy, now time.Time) stepResult {
	rec := &Record{}
	if prev != nil {
		*rec = *prev
	}

	// Penalty box: throttled until the escalated idle period ends.
	if now.Before(rec.PenaltyUntil) {
		rec.Count++
		return stepResult{
			Decision: Decision{
				Allowed:    false,
				Limit:      policy.Max,
				Remaining:  0,
				ResetAt:    rec.PenaltyUntil,
				RetryAfter: rec.PenaltyUntil.Sub(now),
				Violations: rec.Violations,
			},
			record: rec,
		}
	}

	windowEnd := rec.WindowStart.Add(policy.Window)
	if prev == nil || !now.Before(windowEnd) {
		// One full window without a violation, counted from the end of any
		// penalty, clears the offender history.
		cleanSince := rec.LastViolation
		if rec.PenaltyUntil.After(cleanSince) {
			cleanSince = rec.PenaltyUntil
		}
		if rec.Violations > 0 && !now.Before(cleanSince.Add(policy.Window)) {
			rec.Violations = 0
		}
		rec.Count = 1
		rec.WindowStart = now
		return stepResult{
			Decision: Decision{
				Allowed:    true,
				Limit:      policy.Max,
				Remaining:  policy.Max - 1,
				ResetAt:    now.Add(policy.Window),
				Violations: rec.Violations,
			},
			record: rec,
		}
	}

	rec.Count++
	if rec.Count <= policy.Max {
		return stepResult{
			Decision: Decision{
				Allowed:    true,
				Limit:      policy.Max,
				Remaining:  policy.Max - rec.Count,
				ResetAt:    windowEnd,
				Violations: rec.Violations,
			},
			record: rec,
		}
	}

	// Only the first overflow in a window counts as a new violation.
	if rec.LastViolation.Before(rec.WindowStart) {
		rec.Violations++
		rec.LastViolation = now
		if penalty := l.penalty(policy, rec.Violations); penalty > 0 {
			rec.PenaltyUntil = now.Add(penalty)
		}
	}

	retryAt := windowEnd
	if rec.PenaltyUntil.After(retryAt) {
		retryAt = rec.PenaltyUntil
	}
	retryAfter := retryAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return stepResult{
		Decision: Decision{
			Allowed:    false,
			Limit:      policy.Max,
			Remaining:  0,
			ResetAt:    retryAt,
			RetryAfter: retryAfter,
			Violations: rec.Violations,
		},
		record: rec,
	}
}

// penalty is the idle period imposed after the nth consecutive violation.
// The first violation only waits out the current window.
func (l *Limiter) penalty(policy Policy, violations int) time.Duration {
	if violations < 2 || l.multiplier < 2 {
		return 0
	}
	d := policy.Window
	for i := 1; i < violations; i++ {
		d *= time.Duration(l.multiplier)
		if d >= l.maxBackoff {
			return l.maxBackoff
		}
	}
	return d
}

// ttl keeps a record long enough to remember violations across any penalty
// plus one clean window.
func (l *Limiter) ttl(policy Policy, rec *Record, now time.Time) time.Duration {
	ttl := 2 * policy.Window
	if rec.PenaltyUntil.After(now) {
		ttl += rec.PenaltyUntil.Sub(now)
	}
	return ttl
}

func (l *Limiter) failOpen(policy Policy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max,
		ResetAt:   now.Add(policy.Window),
	}
}

// Key builds the store key for an endpoint and identifier.
func Key(endpoint, identifier string) string {
	return endpoint + ":" + identifier
}
