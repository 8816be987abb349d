package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/csrf"
)

func newCSRFManager(t *testing.T) *csrf.Manager {
	t.Helper()
	m, err := csrf.NewManager("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestCSRF(t *testing.T) {
	t.Parallel()

	m := newCSRFManager(t)
	token, _, err := m.Issue("session-1")
	if err != nil {
		t.Fatal(err)
	}
	otherToken, _, _ := m.Issue("session-2")

	tests := []struct {
		name       string
		method     string
		session    string
		token      string
		wantStatus int
	}{
		{"valid token", http.MethodPost, "session-1", token, http.StatusOK},
		{"missing token", http.MethodPost, "session-1", "", http.StatusForbidden},
		{"missing session", http.MethodPost, "", token, http.StatusForbidden},
		{"token from other session", http.MethodPost, "session-1", otherToken, http.StatusForbidden},
		{"garbage token", http.MethodPost, "session-1", "nope", http.StatusForbidden},
		{"GET is exempt", http.MethodGet, "", "", http.StatusOK},
		{"DELETE is checked", http.MethodDelete, "session-1", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := Identify(CSRF(CSRFConfig{Logger: discardLogger(), Manager: m, Enabled: true})(okHandler()))

			req := httptest.NewRequest(tt.method, "/api/signup", nil)
			if tt.session != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.session})
			}
			if tt.token != "" {
				req.Header.Set(CSRFHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden && !contains(rec.Body.String(), `"code":"FORBIDDEN"`) {
				t.Errorf("body = %s, want FORBIDDEN envelope", rec.Body.String())
			}
		})
	}
}

func TestCSRF_WorksWithoutIdentify(t *testing.T) {
	t.Parallel()

	m := newCSRFManager(t)
	token, _, _ := m.Issue("s")
	handler := CSRF(CSRFConfig{Logger: discardLogger(), Manager: m, Enabled: true})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s"})
	req.Header.Set(CSRFHeader, token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCSRF_Disabled(t *testing.T) {
	t.Parallel()

	handler := CSRF(CSRFConfig{Logger: discardLogger(), Manager: newCSRFManager(t), Enabled: false})(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
