package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hearthline/waitlist/internal/csrf"
	"github.com/hearthline/waitlist/internal/middleware"
)

// CSRFHandler serves GET /api/csrf.
type CSRFHandler struct {
	manager      *csrf.Manager
	secureCookie bool
	logger       *slog.Logger
}

// NewCSRFHandler creates a CSRFHandler. secureCookie should be true outside
// development.
func NewCSRFHandler(manager *csrf.Manager, secureCookie bool, logger *slog.Logger) *CSRFHandler {
	return &CSRFHandler{
		manager:      manager,
		secureCookie: secureCookie,
		logger:       logger.With("component", "handler.csrf"),
	}
}

// CSRFResponse carries a fresh token.
type CSRFResponse struct {
	Token     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token handles GET /api/csrf. It reuses the caller's session cookie when
// present and issues a new one otherwise.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	session := middleware.SecurityFromContext(r.Context()).SessionID
	if session == "" {
		id, err := csrf.NewSessionID()
		if err != nil {
			h.logger.Error("failed to create session", "error", err)
			writeError(w, http.StatusInternalServerError, CodeServerError, "Could not create session")
			return
		}
		session = id
	}

	token, expires, err := h.manager.Issue(session)
	if err != nil {
		h.logger.Error("failed to issue csrf token", "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "Could not create token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session,
		Path:     "/",
		MaxAge:   int(h.manager.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, CSRFResponse{Token: token, ExpiresAt: expires.UTC()})
}
