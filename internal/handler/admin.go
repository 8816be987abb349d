package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/repository"
)

// AdminStore is the read side used by the admin endpoints.
type AdminStore interface {
	ListSubscribers(ctx context.Context, filter repository.SubscriberFilter) ([]*model.Subscriber, error)
	CountByStatus(ctx context.Context) (model.StatusCounts, error)
}

// AdminHandler provides admin-only endpoints for operations.
type AdminHandler struct {
	store  AdminStore
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store AdminStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		logger: logger.With("component", "handler.admin"),
	}
}

// SignupListResponse is the body of GET /api/admin/signups.
type SignupListResponse struct {
	Signups []*model.Subscriber `json:"signups"`
	Total   int                 `json:"total"`
}

// ListSignups handles GET /api/admin/signups?status=&limit=
func (h *AdminHandler) ListSignups(w http.ResponseWriter, r *http.Request) {
	filter := repository.SubscriberFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := model.VerificationStatus(s)
		switch status {
		case model.StatusPending, model.StatusVerified, model.StatusExpired:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "status must be pending, verified or expired")
			return
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	subs, err := h.store.ListSubscribers(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list subscribers", "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "Failed to list signups")
		return
	}
	if subs == nil {
		subs = []*model.Subscriber{}
	}

	writeJSON(w, http.StatusOK, SignupListResponse{Signups: subs, Total: len(subs)})
}

// StatsResponse is the body of GET /api/admin/stats.
type StatsResponse struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Verified int64 `json:"verified"`
	Expired  int64 `json:"expired"`
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	counts, err := h.store.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("failed to count subscribers", "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "Failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Total:    counts.Total(),
		Pending:  counts.Pending,
		Verified: counts.Verified,
		Expired:  counts.Expired,
	})
}
