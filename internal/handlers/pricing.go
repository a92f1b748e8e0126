package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/services"
)

// PricingHandlers serves cart quotes for terminals.
type PricingHandlers struct {
	pricing services.PricingService
	limiter *quoteLimiter
}

// PricingOption customises PricingHandlers.
type PricingOption func(*PricingHandlers)

// WithQuoteRateLimit allows at most limit quotes per terminal in each window.
func WithQuoteRateLimit(limit int, window time.Duration, clock func() time.Time) PricingOption {
	return func(h *PricingHandlers) {
		h.limiter = newQuoteLimiter(limit, window, clock)
	}
}

// NewPricingHandlers constructs PricingHandlers.
func NewPricingHandlers(svc services.PricingService, opts ...PricingOption) *PricingHandlers {
	h := &PricingHandlers{pricing: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /pricing endpoints.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

type quoteResponse struct {
	StoreID    string              `json:"storeId"`
	TerminalID string              `json:"terminalId"`
	Currency   string              `json:"currency"`
	Sequence   int64               `json:"sequence"`
	Totals     pricing.OrderTotals `json:"totals"`
	QuotedAt   string              `json:"quotedAt"`
}

func (h *PricingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}
	terminal, ok := requireTerminal(ctx, w)
	if !ok {
		return
	}
	if allowed, retry := h.limiter.allow(terminal.ID); !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests for this terminal", http.StatusTooManyRequests).
			WithRetryAfter(retry))
		return
	}

	var req cartRequest
	if err := decodeJSONBody(r, &req, maxCartBodySize, false); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	quote, err := h.pricing.Quote(ctx, services.QuoteCommand{
		StoreID:       firstNonEmpty(terminal.StoreID, req.StoreID),
		TerminalID:    terminal.ID,
		Sequence:      req.Sequence,
		Items:         req.lineItems(),
		OrderDiscount: req.OrderDiscount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildQuoteResponse(quote))
}

func buildQuoteResponse(quote domain.PricingQuote) quoteResponse {
	totals := quote.Totals
	if totals.Items == nil {
		totals.Items = []pricing.ItemBreakdown{}
	}
	return quoteResponse{
		StoreID:    quote.StoreID,
		TerminalID: quote.TerminalID,
		Currency:   quote.Currency,
		Sequence:   quote.Sequence,
		Totals:     totals,
		QuotedAt:   formatTime(quote.QuotedAt),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
