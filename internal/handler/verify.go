package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/middleware"
	"github.com/hearthline/waitlist/internal/verification"
)

// Verifier consumes verification tokens. *verification.Service implements it.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (verification.Outcome, error)
}

// Values of the verified query flag on the redirect.
const (
	VerifiedSuccess = "success"
	VerifiedAlready = "already"
	VerifiedError   = "error"
)

// VerifyHandler serves GET /api/verify.
type VerifyHandler struct {
	svc     Verifier
	siteURL string
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewVerifyHandler creates a VerifyHandler that redirects to siteURL.
func NewVerifyHandler(svc Verifier, siteURL string, logger *slog.Logger, recorder metrics.Recorder) *VerifyHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &VerifyHandler{
		svc:     svc,
		siteURL: strings.TrimSuffix(siteURL, "/"),
		logger:  logger.With("component", "handler.verify"),
		metrics: recorder,
	}
}

// Verify handles GET /api/verify?token=...
// It always redirects; the outcome travels in the query string.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	outcome, err := h.svc.Verify(r.Context(), token)
	if err != nil {
		h.logger.Error("verification failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		h.metrics.IncVerification("error")
		h.redirect(w, r, VerifiedError, "server_error")
		return
	}

	h.metrics.IncVerification(string(outcome.Result))

	switch outcome.Result {
	case verification.ResultSuccess:
		h.redirect(w, r, VerifiedSuccess, "")
	case verification.ResultAlreadyVerified:
		h.redirect(w, r, VerifiedAlready, "")
	case verification.ResultExpired:
		h.redirect(w, r, VerifiedError, "expired")
	default:
		h.redirect(w, r, VerifiedError, "invalid")
	}
}

func (h *VerifyHandler) redirect(w http.ResponseWriter, r *http.Request, flag, reason string) {
	q := url.Values{}
	q.Set("verified", flag)
	if reason != "" {
		q.Set("reason", reason)
	}
	http.Redirect(w, r, h.siteURL+"/?"+q.Encode(), http.StatusFound)
}
