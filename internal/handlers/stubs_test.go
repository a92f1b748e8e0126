package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/services"
)

type stubPricingService struct {
	quoteFn func(context.Context, services.QuoteCommand) (domain.PricingQuote, error)
}

func (s *stubPricingService) Quote(ctx context.Context, cmd services.QuoteCommand) (domain.PricingQuote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return domain.PricingQuote{}, nil
}

type stubOrderService struct {
	checkoutFn func(context.Context, services.CheckoutCommand) (domain.Order, error)
	getFn      func(context.Context, string) (domain.Order, error)
	listFn     func(context.Context, domain.OrderFilter) (domain.CursorPage[domain.Order], error)
	receiptFn  func(context.Context, string) (services.Receipt, error)
}

func (s *stubOrderService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (domain.Order, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Receipt(ctx context.Context, id string) (services.Receipt, error) {
	if s.receiptFn != nil {
		return s.receiptFn(ctx, id)
	}
	return services.Receipt{}, services.ErrOrderNotFound
}

type stubReportService struct {
	summaryFn   func(context.Context, services.ReportFilter) (domain.SalesSummary, error)
	reconcileFn func(context.Context, services.ReportFilter) (domain.ReconciliationReport, error)
}

func (s *stubReportService) SalesSummary(ctx context.Context, filter services.ReportFilter) (domain.SalesSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, filter)
	}
	return domain.SalesSummary{}, nil
}

func (s *stubReportService) Reconcile(ctx context.Context, filter services.ReportFilter) (domain.ReconciliationReport, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, filter)
	}
	return domain.ReconciliationReport{}, nil
}

// serve runs req through the full router so the terminal middleware and route params apply.
func serve(t *testing.T, router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func terminalHeaders(terminalID string) map[string]string {
	return map[string]string{TerminalHeader: terminalID, StoreHeader: "store-1"}
}
