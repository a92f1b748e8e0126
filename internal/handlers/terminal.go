package handlers

import (
	"context"
	"net/http"

	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/platform/observability"
	"github.com/tillpoint/api/internal/platform/requestctx"
)

const (
	// TerminalHeader carries the calling POS terminal id.
	TerminalHeader = "X-Terminal-ID"
	// StoreHeader carries the store the terminal belongs to.
	StoreHeader = "X-Store-ID"
)

// TerminalMiddleware records the terminal headers on the request context. Requests without them
// pass through; handlers that need a terminal reject them.
func TerminalMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			terminal := requestctx.Terminal{
				ID:      observability.SanitizeTerminalID(r.Header.Get(TerminalHeader)),
				StoreID: observability.SanitizeTerminalID(r.Header.Get(StoreHeader)),
			}
			if terminal.ID != "" || terminal.StoreID != "" {
				r = r.WithContext(requestctx.WithTerminal(r.Context(), terminal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireTerminal(ctx context.Context, w http.ResponseWriter) (requestctx.Terminal, bool) {
	terminal, ok := requestctx.TerminalFrom(ctx)
	if !ok || terminal.ID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("terminal_required", TerminalHeader+" header is required", http.StatusBadRequest))
		return requestctx.Terminal{}, false
	}
	return terminal, true
}
