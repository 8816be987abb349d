// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// minCSRFSecretLength is the minimum accepted length of CSRF_SECRET.
const minCSRFSecretLength = 32

// ErrWeakCSRFSecret is returned when CSRF_SECRET is too short.
var ErrWeakCSRFSecret = errors.New("CSRF_SECRET must be at least 32 characters")

// Config holds all application configuration.
// It is loaded once at startup and treated as read-only afterwards.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public base URL of this API, used to build verification links.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// Marketing site URL that verification redirects land on.
	SiteURL string `env:"SITE_URL" envDefault:"http://localhost:3000"`

	// Database (PostgreSQL / Supabase)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis). Optional: an in-process limiter store is used when empty.
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Timeout applied to every call to an external collaborator.
	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"5s"`

	// Rate limiting
	RateLimitEnabled           bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitSignupMax         int           `env:"RATE_LIMIT_SIGNUP_MAX" envDefault:"20"`
	RateLimitSignupWindow      time.Duration `env:"RATE_LIMIT_SIGNUP_WINDOW" envDefault:"60s"`
	RateLimitSuspiciousMax     int           `env:"RATE_LIMIT_SUSPICIOUS_MAX" envDefault:"3"`
	RateLimitSuspiciousWindow  time.Duration `env:"RATE_LIMIT_SUSPICIOUS_WINDOW" envDefault:"10m"`
	RateLimitVerifyMax         int           `env:"RATE_LIMIT_VERIFY_MAX" envDefault:"30"`
	RateLimitVerifyWindow      time.Duration `env:"RATE_LIMIT_VERIFY_WINDOW" envDefault:"60s"`
	RateLimitAnalyticsMax      int           `env:"RATE_LIMIT_ANALYTICS_MAX" envDefault:"120"`
	RateLimitAnalyticsWindow   time.Duration `env:"RATE_LIMIT_ANALYTICS_WINDOW" envDefault:"60s"`
	RateLimitPenaltyMultiplier int           `env:"RATE_LIMIT_PENALTY_MULTIPLIER" envDefault:"2"`
	RateLimitMaxBackoff        time.Duration `env:"RATE_LIMIT_MAX_BACKOFF" envDefault:"1h"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://*.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Comma-separated CIDRs of reverse proxies whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty means forwarded headers are ignored.
	TrustedProxies string `env:"TRUSTED_PROXIES" envDefault:""`

	// Request body size limit in bytes (default 64KB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`

	// CSRF protection
	CSRFEnabled  bool          `env:"CSRF_ENABLED" envDefault:"true"`
	CSRFSecret   string        `env:"CSRF_SECRET,required"`
	CSRFTokenTTL time.Duration `env:"CSRF_TOKEN_TTL" envDefault:"2h"`

	// Validation and abuse policy
	PolicyFile       string  `env:"POLICY_FILE"`
	EntropyThreshold float64 `env:"ENTROPY_THRESHOLD" envDefault:"0.5"`

	// Email verification
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"48h"`

	// Admin access (argon2id PHC hash of the shared admin token)
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Automation webhook (Zapier or compatible)
	AutomationWebhookURL    string        `env:"AUTOMATION_WEBHOOK_URL"`
	AutomationWebhookSecret string        `env:"AUTOMATION_WEBHOOK_SECRET"`
	OutboxPollInterval      time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"30s"`

	// CRM (Airtable)
	AirtableAPIKey string  `env:"AIRTABLE_API_KEY"`
	AirtableBaseID string  `env:"AIRTABLE_BASE_ID"`
	AirtableTable  string  `env:"AIRTABLE_TABLE" envDefault:"Waitlist"`
	AirtableRPS    float64 `env:"AIRTABLE_RPS" envDefault:"5"`

	// Transactional email
	EmailAPIURL string `env:"EMAIL_API_URL" envDefault:"https://api.resend.com/emails"`
	EmailAPIKey string `env:"EMAIL_API_KEY"`
	EmailFrom   string `env:"EMAIL_FROM" envDefault:"Hearthline <hello@hearthline.ca>"`

	// Metrics
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// GetTrustedProxies parses TRUSTED_PROXIES into prefixes. A bare address is
// treated as a single-host prefix.
func (c *Config) GetTrustedProxies() ([]netip.Prefix, error) {
	if strings.TrimSpace(c.TrustedProxies) == "" {
		return nil, nil
	}

	var result []netip.Prefix
	for _, raw := range strings.Split(c.TrustedProxies, ",") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, "/") {
			addr, err := netip.ParseAddr(trimmed)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q: %w", trimmed, err)
			}
			addr = addr.Unmap()
			result = append(result, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(trimmed)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q: %w", trimmed, err)
		}
		result = append(result, prefix.Masked())
	}

	return result, nil
}

// AutomationConfigured reports whether a webhook target is set.
func (c *Config) AutomationConfigured() bool {
	return c.AutomationWebhookURL != ""
}

// CRMConfigured reports whether Airtable credentials are present.
func (c *Config) CRMConfigured() bool {
	return c.AirtableAPIKey != "" && c.AirtableBaseID != ""
}

// EmailConfigured reports whether the email provider is usable.
func (c *Config) EmailConfigured() bool {
	return c.EmailAPIKey != "" && c.EmailAPIURL != ""
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.CSRFSecret) < minCSRFSecretLength {
		return ErrWeakCSRFSecret
	}
	if c.EntropyThreshold < 0 || c.EntropyThreshold > 1 {
		return fmt.Errorf("ENTROPY_THRESHOLD must be between 0 and 1, got %v", c.EntropyThreshold)
	}
	if c.RateLimitPenaltyMultiplier < 1 {
		return fmt.Errorf("RATE_LIMIT_PENALTY_MULTIPLIER must be >= 1, got %d", c.RateLimitPenaltyMultiplier)
	}
	if _, err := c.GetTrustedProxies(); err != nil {
		return err
	}
	return nil
}
