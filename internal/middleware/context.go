package middleware

import (
	"context"
	"net"
	"net/http"
)

// SessionCookie is the cookie carrying the CSRF session id.
const SessionCookie = "hl_session"

// SecurityContext is request scoped security state. It is never persisted.
type SecurityContext struct {
	ClientIP  string
	SessionID string
	CSRFToken string
	RequestID string
}

// Identify resolves the client IP and session and stores a SecurityContext.
// Run it after RealIP and RequestID.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := &SecurityContext{
			ClientIP:  clientIP(r),
			CSRFToken: r.Header.Get(CSRFHeader),
			RequestID: GetRequestID(r.Context()),
		}
		if c, err := r.Cookie(SessionCookie); err == nil {
			sc.SessionID = c.Value
		}

		ctx := context.WithValue(r.Context(), securityKey, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityFromContext returns the SecurityContext, or a minimal one derived
// from the request when Identify did not run.
func SecurityFromContext(ctx context.Context) *SecurityContext {
	if sc, ok := ctx.Value(securityKey).(*SecurityContext); ok {
		return sc
	}
	return &SecurityContext{RequestID: GetRequestID(ctx)}
}

// ClientIP returns the client IP for r.
func ClientIP(r *http.Request) string {
	if sc, ok := r.Context().Value(securityKey).(*SecurityContext); ok && sc.ClientIP != "" {
		return sc.ClientIP
	}
	return clientIP(r)
}

// clientIP strips the port from RemoteAddr. Proxy headers are handled by
// RealIP before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
