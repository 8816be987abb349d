package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hearthline/waitlist/internal/auth"
)

const (
	// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond
)

// AdminAuthConfig holds configuration for the admin auth middleware.
type AdminAuthConfig struct {
	Logger *slog.Logger
	// TokenHash is the argon2id hash of the admin token. Empty disables
	// every admin route.
	TokenHash string
	// MinDuration overrides minAuthDuration; tests set it to zero.
	MinDuration *time.Duration
}

// AdminAuth returns a middleware that requires the shared admin bearer token.
func AdminAuth(cfg AdminAuthConfig) func(http.Handler) http.Handler {
	minDuration := minAuthDuration
	if cfg.MinDuration != nil {
		minDuration = *cfg.MinDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			ok, reason := verifyAdmin(r, cfg.TokenHash)

			// Ensure consistent timing regardless of outcome
			if elapsed := time.Since(startTime); elapsed < minDuration {
				time.Sleep(minDuration - elapsed)
			}

			if !ok {
				cfg.Logger.Warn("admin authentication failed",
					slog.String("reason", reason),
					slog.String("ip", ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="waitlist-admin"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing or invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func verifyAdmin(r *http.Request, tokenHash string) (bool, string) {
	if tokenHash == "" {
		return false, "not_configured"
	}

	token := extractBearer(r)
	if token == "" {
		return false, "missing_token"
	}

	match, err := auth.VerifyAdminToken(token, tokenHash)
	if err != nil {
		return false, "invalid_format"
	}
	if !match {
		return false, "invalid_token"
	}
	return true, ""
}

// extractBearer returns the token from "Authorization: Bearer <token>".
func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
