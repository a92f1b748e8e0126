package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/services"
)

func TestPricingHandlersQuote(t *testing.T) {
	var got services.QuoteCommand
	svc := &stubPricingService{quoteFn: func(_ context.Context, cmd services.QuoteCommand) (domain.PricingQuote, error) {
		got = cmd
		return domain.PricingQuote{
			StoreID:    cmd.StoreID,
			TerminalID: cmd.TerminalID,
			Currency:   "VND",
			Sequence:   cmd.Sequence,
			Totals:     pricing.OrderTotals{Mode: pricing.PriceModeExclusive, Subtotal: 20000, Tax: 2000, Total: 22000, CustomerPayment: 22000},
			QuotedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	}}
	router := NewRouter(WithMiddlewares(TerminalMiddleware()), WithPricingRoutes(NewPricingHandlers(svc).Routes))

	body := `{"sequence":3,"orderDiscount":0,"items":[{"id":"pho","label":"Pho","unitPrice":10000,"quantity":2,"taxRatePercent":10}]}`
	rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", body, terminalHeaders("till-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TerminalID != "till-1" || got.StoreID != "store-1" || got.Sequence != 3 || len(got.Items) != 1 {
		t.Fatalf("unexpected command %+v", got)
	}
	var resp struct {
		Sequence int64 `json:"sequence"`
		Totals   struct {
			Total int64         `json:"total"`
			Items []interface{} `json:"items"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sequence != 3 || resp.Totals.Total != 22000 || resp.Totals.Items == nil {
		t.Fatalf("unexpected response %s", rr.Body.String())
	}
}

func TestPricingHandlersQuoteErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		headers map[string]string
		body    string
		status  int
		code    string
	}{
		{name: "missing terminal", body: `{"items":[]}`, status: http.StatusBadRequest, code: "terminal_required"},
		{name: "bad json", headers: terminalHeaders("till-1"), body: `{"items":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", headers: terminalHeaders("till-1"), body: `{"total":1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "invalid input", headers: terminalHeaders("till-1"), body: `{"items":[]}`, err: fmt.Errorf("%w: duplicate", services.ErrPricingInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "invariant", headers: terminalHeaders("till-1"), body: `{"items":[]}`, err: fmt.Errorf("%w: drift", pricing.ErrInvariantViolation), status: http.StatusInternalServerError, code: "pricing_invariant_violation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubPricingService{quoteFn: func(context.Context, services.QuoteCommand) (domain.PricingQuote, error) {
				return domain.PricingQuote{}, tc.err
			}}
			router := NewRouter(WithMiddlewares(TerminalMiddleware()), WithPricingRoutes(NewPricingHandlers(svc).Routes))

			rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", tc.body, tc.headers)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestPricingHandlersQuoteRateLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	handlers := NewPricingHandlers(&stubPricingService{}, WithQuoteRateLimit(2, time.Second, clock))
	router := NewRouter(WithMiddlewares(TerminalMiddleware()), WithPricingRoutes(handlers.Routes))

	for i := 0; i < 2; i++ {
		if rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"items":[]}`, terminalHeaders("till-1")); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"items":[]}`, terminalHeaders("till-1"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"items":[]}`, terminalHeaders("till-2")); rr.Code != http.StatusOK {
		t.Fatalf("other terminal should not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Second)
	if rr := serve(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"items":[]}`, terminalHeaders("till-1")); rr.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}
