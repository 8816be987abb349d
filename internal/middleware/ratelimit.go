package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/ratelimit"
)

// Limiter admits or throttles requests. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier, endpoint string) (ratelimit.Decision, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter Limiter
	Metrics metrics.Recorder
	Enabled bool
}

// RateLimit returns middleware that limits requests per client IP against the
// named endpoint policy. Limiter store failures never reject a request.
func RateLimit(cfg RateLimitConfig, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			decision, err := cfg.Limiter.Allow(r.Context(), ip, endpoint)
			if err != nil {
				cfg.Logger.Error("rate limit check failed, allowing request",
					slog.String("error", err.Error()),
					slog.String("endpoint", endpoint),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				cfg.recorder().IncRateLimitStoreError(endpoint)
			}

			cfg.recorder().IncRateLimit(endpoint, decision.Allowed)
			setRateLimitHeaders(w, decision.Limit, decision.Remaining, decision.ResetAt)

			if !decision.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("endpoint", endpoint),
					slog.String("path", r.Method+" "+r.URL.Path),
					slog.Int("violations", decision.Violations),
					slog.Int("retry_after_seconds", RetryAfterSeconds(decision.RetryAfter)),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				WriteRateLimited(w, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (cfg RateLimitConfig) recorder() metrics.Recorder {
	if cfg.Metrics == nil {
		return metrics.NewNoop()
	}
	return cfg.Metrics
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int64, resetAt time.Time) {
	if limit <= 0 || resetAt.IsZero() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(remaining, 0), 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
