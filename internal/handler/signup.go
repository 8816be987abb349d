package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/middleware"
	"github.com/hearthline/waitlist/internal/service"
	"github.com/hearthline/waitlist/internal/validation"
)

// Signupper runs the signup pipeline. *service.SignupService implements it.
type Signupper interface {
	Signup(ctx context.Context, req service.SignupRequest, meta service.RequestMeta) (*service.SignupResult, error)
}

// SignupHandler serves POST /api/signup.
type SignupHandler struct {
	svc     Signupper
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewSignupHandler creates a SignupHandler.
func NewSignupHandler(svc Signupper, logger *slog.Logger, recorder metrics.Recorder) *SignupHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &SignupHandler{
		svc:     svc,
		logger:  logger.With("component", "handler.signup"),
		metrics: recorder,
	}
}

// validationMessages are the client-facing texts per rejection code.
var validationMessages = map[string]string{
	validation.CodeInvalidEmail:      "Please enter a valid email address.",
	validation.CodeDisposableEmail:   "Please use a permanent email address.",
	validation.CodeInvalidPostalCode: "Please enter a valid postal code, like A1A 1A1.",
	validation.CodeOutOfServiceArea:  "We don't serve your area yet. We'll let you know when we do.",
}

// Signup handles POST /api/signup.
func (h *SignupHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.metrics.IncSignup(metrics.SignupMalformed)
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON body")
		return
	}

	sc := middleware.SecurityFromContext(r.Context())
	meta := service.RequestMeta{
		ClientIP:   middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  sc.RequestID,
		ReceivedAt: time.Now(),
	}

	res, err := h.svc.Signup(r.Context(), req, meta)
	if err != nil {
		h.writeSignupError(w, err, meta)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, ID: res.ID})
}

func (h *SignupHandler) writeSignupError(w http.ResponseWriter, err error, meta service.RequestMeta) {
	var (
		verr *service.ValidationError
		rej  *service.AbuseRejection
		rle  *service.RateLimitExceeded
	)

	switch {
	case errors.As(err, &verr):
		msg := verr.Message
		if m, ok := validationMessages[verr.Code]; ok {
			msg = m
		}
		writeError(w, http.StatusBadRequest, verr.Code, msg)
	case errors.As(err, &rej):
		// Bots get the same answer as people.
		writeJSON(w, http.StatusOK, Envelope{Success: true, ID: rej.DecoyID})
	case errors.As(err, &rle):
		writeRateLimited(w, rle.RetryAfter)
	default:
		h.logger.Error("signup failed",
			"request_id", meta.RequestID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, CodeServerError, "Something went wrong. Please try again.")
	}
}
