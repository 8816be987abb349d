package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/hearthline/waitlist/internal/csrf"
	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/middleware"
	"github.com/hearthline/waitlist/internal/ratelimit"
)

// RouterConfig wires handlers and middleware into the public route table.
type RouterConfig struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder

	// TrustedProxies are the only peers whose forwarded headers are read.
	TrustedProxies []netip.Prefix

	Security  middleware.SecurityConfig
	CORS      middleware.CORSConfig
	CSRF      *csrf.Manager
	CSRFOn    bool
	Limiter   middleware.Limiter
	LimiterOn bool
	AdminHash string

	Health    *HealthHandler
	Token     *CSRFHandler
	Signup    *SignupHandler
	Verify    *VerifyHandler
	Analytics *AnalyticsHandler
	Admin     *AdminHandler
	// MetricsEndpoint serves /metrics behind the admin token when set.
	MetricsEndpoint http.Handler
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	h := New()
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.Identify)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.MaxBodySize(cfg.Security.MaxRequestBodySize))

	// Health endpoints (no auth required)
	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  cfg.Logger,
		Limiter: cfg.Limiter,
		Metrics: cfg.Metrics,
		Enabled: cfg.LimiterOn,
	}
	csrfCfg := middleware.CSRFConfig{
		Logger:  cfg.Logger,
		Manager: cfg.CSRF,
		Enabled: cfg.CSRFOn && cfg.CSRF != nil,
	}
	adminCfg := middleware.AdminAuthConfig{
		Logger:    cfg.Logger,
		TokenHash: cfg.AdminHash,
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Token != nil {
			r.Get("/csrf", cfg.Token.Token)
		}
		if cfg.Signup != nil {
			// Limiter runs first so rejected CSRF attempts still spend budget.
			r.With(
				middleware.RateLimit(rateLimitCfg, ratelimit.EndpointSignup),
				middleware.CSRF(csrfCfg),
			).Post("/signup", cfg.Signup.Signup)
		}
		if cfg.Verify != nil {
			r.With(middleware.RateLimit(rateLimitCfg, ratelimit.EndpointVerify)).
				Get("/verify", cfg.Verify.Verify)
		}
		if cfg.Analytics != nil {
			r.With(middleware.RateLimit(rateLimitCfg, ratelimit.EndpointAnalytics)).
				Post("/analytics", cfg.Analytics.Ingest)
		}
		if cfg.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(adminCfg))
				r.Get("/signups", cfg.Admin.ListSignups)
				r.Get("/stats", cfg.Admin.Stats)
			})
		}
	})

	if cfg.MetricsEndpoint != nil {
		r.With(middleware.AdminAuth(adminCfg)).Handle("/metrics", cfg.MetricsEndpoint)
	}

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
