package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hearthline/waitlist/internal/csrf"
)

// CSRFHeader carries the CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFConfig holds configuration for the CSRF middleware.
type CSRFConfig struct {
	Logger  *slog.Logger
	Manager *csrf.Manager
	Enabled bool
}

// CSRF rejects POST, PUT, PATCH and DELETE requests whose X-CSRF-Token is
// missing, expired or not bound to the hl_session cookie.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !isStateChanging(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sc := SecurityFromContext(r.Context())
			token := sc.CSRFToken
			if token == "" {
				token = r.Header.Get(CSRFHeader)
			}
			session := sc.SessionID
			if session == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					session = c.Value
				}
			}

			if err := cfg.Manager.Verify(token, session); err != nil {
				cfg.Logger.Warn("csrf check failed",
					slog.String("reason", err.Error()),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusForbidden, CodeForbidden, "Invalid or missing security token. Please refresh the page and try again.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
