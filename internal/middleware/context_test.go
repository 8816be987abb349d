package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestIdentify_PopulatesSecurityContext(t *testing.T) {
	t.Parallel()

	var got *SecurityContext
	r := chi.NewRouter()
	r.Use(RealIP([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}))
	r.Use(RequestID)
	r.Use(Identify)
	r.Post("/api/signup", func(w http.ResponseWriter, r *http.Request) {
		got = SecurityFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/api/signup", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set(CSRFHeader, "tok")
	req.Header.Set(RequestIDHeader, "req-123")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess"})
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("SecurityContext not set")
	}
	if got.ClientIP != "203.0.113.9" {
		t.Errorf("ClientIP = %q, want forwarded address", got.ClientIP)
	}
	if got.SessionID != "sess" || got.CSRFToken != "tok" || got.RequestID != "req-123" {
		t.Errorf("SecurityContext = %+v", got)
	}
}

func TestRequestID_RejectsUnsafeHeader(t *testing.T) {
	t.Parallel()

	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got == "bad id\nwith newline" || len(got) != 36 {
		t.Errorf("request id = %q, want generated UUID", got)
	}
	if rec.Header().Get(RequestIDHeader) != got {
		t.Error("response header should echo the request id")
	}
}

func TestRecoverer_WritesEnvelope(t *testing.T) {
	t.Parallel()

	handler := Recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !contains(rec.Body.String(), `"code":"SERVER_ERROR"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
