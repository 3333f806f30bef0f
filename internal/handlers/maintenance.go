package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/cartengine/internal/platform/httpx"
	"github.com/hanko-field/cartengine/internal/platform/idempotency"
	"github.com/hanko-field/cartengine/internal/platform/requestctx"
)

const maxCleanupBatch = 1000

// MaintenanceHandlers exposes housekeeping endpoints for Cloud Scheduler.
type MaintenanceHandlers struct {
	store        idempotency.Store
	defaultBatch int
	now          func() time.Time
}

func NewMaintenanceHandlers(store idempotency.Store, defaultBatch int, clock func() time.Time) *MaintenanceHandlers {
	if defaultBatch <= 0 {
		defaultBatch = 200
	}
	if clock == nil {
		clock = time.Now
	}
	return &MaintenanceHandlers{store: store, defaultBatch: defaultBatch, now: clock}
}

func (h *MaintenanceHandlers) Routes(r chi.Router) {
	r.Post("/maintenance/idempotency/cleanup", h.cleanupIdempotency)
}

// cleanupIdempotency deletes expired idempotency records. ?limit= overrides the batch size.
func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "idempotency store not configured", http.StatusServiceUnavailable))
		return
	}

	limit := h.defaultBatch
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxCleanupBatch)
	}

	deleted, err := h.store.CleanupExpired(ctx, h.now().UTC(), limit)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError))
		return
	}
	requestctx.Logger(ctx).Info("idempotency cleanup completed", zap.Int("deleted", deleted), zap.Int("limit", limit))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
