// Package main is the entrypoint for the Hearthline waitlist API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hearthline/waitlist/internal/abuse"
	"github.com/hearthline/waitlist/internal/cache"
	"github.com/hearthline/waitlist/internal/config"
	"github.com/hearthline/waitlist/internal/crm"
	"github.com/hearthline/waitlist/internal/csrf"
	"github.com/hearthline/waitlist/internal/dispatch"
	"github.com/hearthline/waitlist/internal/handler"
	"github.com/hearthline/waitlist/internal/mailer"
	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/middleware"
	"github.com/hearthline/waitlist/internal/ratelimit"
	"github.com/hearthline/waitlist/internal/repository"
	"github.com/hearthline/waitlist/internal/server"
	"github.com/hearthline/waitlist/internal/service"
	"github.com/hearthline/waitlist/internal/validation"
	"github.com/hearthline/waitlist/internal/verification"
	"github.com/hearthline/waitlist/internal/webhook"
)

// limiterSweepInterval is how often the in-process limiter store drops
// expired records.
const limiterSweepInterval = time.Minute

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache. Redis is optional; without it the limiter runs in
	// process and failed webhook deliveries are dropped.
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		defer cacheClient.Close()
		logger.Info("connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set, using in-process rate limit store and no webhook outbox")
	}

	// Metrics
	var (
		recorder        metrics.Recorder
		metricsEndpoint http.Handler
	)
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsEndpoint = prom.Handler()
	} else {
		mem := metrics.NewInMemory()
		recorder = mem
		metricsEndpoint = http.HandlerFunc(handler.NewMetricsHandler(mem).Metrics)
	}

	// Background work started by requests is drained after the HTTP server stops.
	dispatcher := dispatch.New(logger, recorder)

	limiter, stopSweep := newLimiter(cfg, cacheClient)
	defer stopSweep()

	csrfManager, err := csrf.NewManager(cfg.CSRFSecret, cfg.CSRFTokenTTL)
	if err != nil {
		logger.Error("failed to create csrf manager", "error", err)
		os.Exit(1)
	}

	policy, err := validation.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("failed to load validation policy", "error", err, "path", cfg.PolicyFile)
		os.Exit(1)
	}

	// Automation webhook
	publisher, worker := newWebhook(cfg, cacheClient, logger, recorder)

	// CRM and email
	var crmClient crm.Client = crm.Noop{}
	if cfg.CRMConfigured() {
		crmClient = crm.NewAirtableClient(crm.AirtableConfig{
			APIKey:  cfg.AirtableAPIKey,
			BaseID:  cfg.AirtableBaseID,
			Table:   cfg.AirtableTable,
			RPS:     cfg.AirtableRPS,
			Timeout: cfg.OutboundTimeout,
		}, logger)
	} else {
		logger.Warn("Airtable not configured, CRM sync disabled")
	}

	var emailSender mailer.Sender = mailer.Noop{}
	if cfg.EmailConfigured() {
		emailSender = mailer.New(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.OutboundTimeout, logger)
	} else {
		logger.Warn("email provider not configured, verification emails disabled")
	}

	// Initialize services
	signupService := service.NewSignupService(service.SignupDeps{
		Validator:  validation.New(policy),
		Assessor:   abuse.NewAssessor(nil, cfg.EntropyThreshold),
		Limiter:    limiter,
		Store:      repo,
		Publisher:  publisher,
		CRM:        crmClient,
		Mailer:     emailSender,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    recorder,
	}, service.SignupConfig{
		BaseURL:         cfg.BaseURL,
		VerificationTTL: cfg.VerificationTTL,
		OutboundTimeout: cfg.OutboundTimeout,
	})

	verificationService := verification.NewService(repo, logger,
		service.VerifiedHook(dispatcher, publisher, crmClient, cfg.OutboundTimeout, logger),
	)

	// Initialize handlers
	var cacheCheck handler.HealthChecker
	if cacheClient != nil {
		cacheCheck = cacheClient
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	trustedProxies, err := cfg.GetTrustedProxies()
	if err != nil {
		logger.Error("invalid trusted proxy list", "error", err)
		os.Exit(1)
	}
	if len(trustedProxies) == 0 {
		logger.Info("TRUSTED_PROXIES not set, forwarded client headers are ignored")
	}

	adminHash := cfg.AdminTokenHash
	if adminHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin endpoints will reject every request")
	}

	r := handler.NewRouter(handler.RouterConfig{
		Logger:         logger,
		Metrics:        recorder,
		TrustedProxies: trustedProxies,
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		CORS:      cors,
		CSRF:      csrfManager,
		CSRFOn:    cfg.CSRFEnabled,
		Limiter:   limiter,
		LimiterOn: cfg.RateLimitEnabled,
		AdminHash: adminHash,

		Health:          handler.NewHealthHandler(repo, cacheCheck),
		Token:           handler.NewCSRFHandler(csrfManager, !cfg.IsDevelopment(), logger),
		Signup:          handler.NewSignupHandler(signupService, logger, recorder),
		Verify:          handler.NewVerifyHandler(verificationService, cfg.SiteURL, logger, recorder),
		Analytics:       handler.NewAnalyticsHandler(repo, dispatcher, cfg.OutboundTimeout, logger, recorder),
		Admin:           handler.NewAdminHandler(repo, logger),
		MetricsEndpoint: metricsEndpoint,
	})

	// Create and run server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	if worker != nil {
		workerCtx, cancelWorker := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := worker.Run(workerCtx); err != nil {
				logger.Error("webhook worker stopped", "error", err)
			}
		}()
		// Registered first so it stops after the dispatcher drained.
		srv.OnShutdown("webhook-worker", func(ctx context.Context) error {
			cancelWorker()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	srv.OnShutdown("dispatcher", dispatcher.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"site_url", cfg.SiteURL,
		"env", cfg.AppEnv,
		"redis", cacheClient != nil,
		"webhook", cfg.AutomationConfigured(),
		"crm", cfg.CRMConfigured(),
		"email", cfg.EmailConfigured(),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newLimiter builds the rate limiter on Redis when available and on an
// in-process store otherwise. The returned func stops the sweeper.
func newLimiter(cfg *config.Config, cacheClient *cache.Cache) (*ratelimit.Limiter, func()) {
	limiterCfg := ratelimit.Config{
		Policies: map[string]ratelimit.Policy{
			ratelimit.EndpointSignup: {
				Max:    int64(cfg.RateLimitSignupMax),
				Window: cfg.RateLimitSignupWindow,
			},
			ratelimit.EndpointSignupSuspicious: {
				Max:    int64(cfg.RateLimitSuspiciousMax),
				Window: cfg.RateLimitSuspiciousWindow,
			},
			ratelimit.EndpointVerify: {
				Max:    int64(cfg.RateLimitVerifyMax),
				Window: cfg.RateLimitVerifyWindow,
			},
			ratelimit.EndpointAnalytics: {
				Max:    int64(cfg.RateLimitAnalyticsMax),
				Window: cfg.RateLimitAnalyticsWindow,
			},
		},
		Multiplier: cfg.RateLimitPenaltyMultiplier,
		MaxBackoff: cfg.RateLimitMaxBackoff,
	}

	if cacheClient != nil {
		return ratelimit.New(cacheClient.RateLimitStore(), limiterCfg), func() {}
	}

	store := ratelimit.NewMemoryStore()
	ticker := time.NewTicker(limiterSweepInterval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				store.Sweep()
			case <-stop:
				return
			}
		}
	}()
	return ratelimit.New(store, limiterCfg), func() {
		ticker.Stop()
		close(stop)
	}
}

// newWebhook builds the automation webhook publisher and, when Redis is
// available, the outbox worker that retries failed deliveries.
func newWebhook(cfg *config.Config, cacheClient *cache.Cache, logger *slog.Logger, recorder metrics.Recorder) (*webhook.Publisher, *webhook.Worker) {
	targetURL := cfg.AutomationWebhookURL
	if targetURL != "" {
		if err := webhook.ValidateTargetURL(targetURL, cfg.IsDevelopment()); err != nil {
			logger.Error("invalid automation webhook url, webhook disabled",
				"error", err,
				"url", redactURL(targetURL),
			)
			targetURL = ""
		}
	} else {
		logger.Warn("AUTOMATION_WEBHOOK_URL not set, lead events are not forwarded")
	}

	deliverer := webhook.NewDeliverer(
		targetURL,
		cfg.AutomationWebhookSecret,
		webhook.NewHTTPClient(cfg.OutboundTimeout),
		logger,
	)

	var outbox webhook.Outbox
	if cacheClient != nil {
		outbox = cacheClient.Outbox()
	}
	publisher := webhook.NewPublisher(deliverer, outbox, logger, recorder)

	if outbox == nil || !deliverer.Configured() {
		return publisher, nil
	}

	worker := webhook.NewWorker(outbox, deliverer, logger, recorder)
	worker.SetPollInterval(cfg.OutboxPollInterval)
	return publisher, worker
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "hearthline-waitlist")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}
	// Webhook URLs often carry their secret in the path or query.
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
