package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tillpoint/api/internal/platform/display"
	"github.com/tillpoint/api/internal/platform/httpx"
)

// SnapshotReader returns the newest display event stored for a terminal.
type SnapshotReader interface {
	Latest(ctx context.Context, terminalID string) (display.Event, error)
}

// DisplayHandlers lets customer displays poll for their current state.
type DisplayHandlers struct {
	snapshots SnapshotReader
}

// NewDisplayHandlers constructs DisplayHandlers.
func NewDisplayHandlers(snapshots SnapshotReader) *DisplayHandlers {
	return &DisplayHandlers{snapshots: snapshots}
}

// Routes registers the /displays endpoints.
func (h *DisplayHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{terminalID}", h.latest)
}

func (h *DisplayHandlers) latest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("display_unavailable", "display snapshots are not configured", http.StatusServiceUnavailable))
		return
	}
	terminalID := strings.TrimSpace(chi.URLParam(r, "terminalID"))
	if terminalID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "terminal id is required", http.StatusBadRequest))
		return
	}
	event, err := h.snapshots.Latest(ctx, terminalID)
	switch {
	case errors.Is(err, display.ErrSnapshotNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("display_snapshot_not_found", "no display state for terminal", http.StatusNotFound))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("display_unavailable", "display state unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, event)
}
