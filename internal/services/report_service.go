package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
)

const (
	reportPageSize = 200
	maxReportPages = 500
)

var (
	// ErrReportInvalidInput signals a malformed report filter.
	ErrReportInvalidInput = errors.New("report: invalid input")
	// ErrReportTooLarge indicates the filter matched more orders than one run may scan.
	ErrReportTooLarge = errors.New("report: window too large")
)

// ReportServiceDeps wires the report service.
type ReportServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger EventLogger
}

type reportService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger EventLogger
}

var _ ReportService = (*reportService)(nil)

// NewReportService constructs a ReportService.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("report service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &reportService{
		orders: deps.Orders,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// SalesSummary totals revenue from persisted record fields only. Breakdowns are never consulted
// so the figures match what downstream reporting derives.
func (s *reportService) SalesSummary(ctx context.Context, filter ReportFilter) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		StoreID: strings.TrimSpace(filter.StoreID),
		From:    filter.From,
		To:      filter.To,
		ByMode:  map[string]domain.ModeSummary{},
	}
	err := s.scan(ctx, filter, []domain.OrderStatus{domain.OrderStatusPersisted, domain.OrderStatusReconciled}, func(order domain.Order) {
		revenue := pricing.Reconcile(order.Record)
		summary.OrderCount++
		summary.Revenue += revenue
		summary.Tax += order.Record.Tax
		summary.Discount += order.Record.Discount
		summary.Total += order.Record.Total
		summary.CustomerPayments += order.Record.Total

		mode := string(modeOf(order))
		bucket := summary.ByMode[mode]
		bucket.OrderCount++
		bucket.Revenue += revenue
		bucket.Tax += order.Record.Tax
		summary.ByMode[mode] = bucket
	})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary.GeneratedAt = s.now()
	return summary, nil
}

// Reconcile re-derives revenue for every persisted order in the window and compares it with the
// net subtotal of the stored breakdown. Matching orders move to reconciled.
func (s *reportService) Reconcile(ctx context.Context, filter ReportFilter) (domain.ReconciliationReport, error) {
	now := s.now()
	report := domain.ReconciliationReport{
		StoreID: strings.TrimSpace(filter.StoreID),
		RunAt:   now,
	}
	var matched []string
	err := s.scan(ctx, filter, []domain.OrderStatus{domain.OrderStatusPersisted}, func(order domain.Order) {
		report.Checked++
		var expected int64
		for _, line := range order.Breakdown {
			expected += line.Subtotal
		}
		actual := pricing.Reconcile(order.Record)
		if actual == expected {
			matched = append(matched, order.ID)
			return
		}
		discrepancy := domain.Discrepancy{
			OrderID:    order.ID,
			StoreID:    order.StoreID,
			Expected:   expected,
			Actual:     actual,
			Difference: actual - expected,
			Severity:   gradeDiscrepancy(expected, actual),
			DetectedAt: now,
		}
		report.Discrepancies = append(report.Discrepancies, discrepancy)
		s.logger(ctx, "reconciliation_discrepancy", map[string]any{
			"orderId":    discrepancy.OrderID,
			"storeId":    discrepancy.StoreID,
			"expected":   discrepancy.Expected,
			"actual":     discrepancy.Actual,
			"difference": discrepancy.Difference,
			"severity":   string(discrepancy.Severity),
		})
	})
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	if len(matched) > 0 {
		updated, err := s.orders.MarkReconciled(ctx, matched, now)
		if err != nil {
			return domain.ReconciliationReport{}, fmt.Errorf("report: mark reconciled: %w", err)
		}
		report.Reconciled = updated
	}
	s.logger(ctx, "reconciliation_completed", map[string]any{
		"storeId":       report.StoreID,
		"checked":       report.Checked,
		"reconciled":    report.Reconciled,
		"discrepancies": len(report.Discrepancies),
	})
	return report, nil
}

func (s *reportService) scan(ctx context.Context, filter ReportFilter, statuses []domain.OrderStatus, visit func(domain.Order)) error {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return fmt.Errorf("%w: from must be before to", ErrReportInvalidInput)
	}
	query := domain.OrderFilter{
		StoreID:  strings.TrimSpace(filter.StoreID),
		Statuses: statuses,
		From:     filter.From,
		To:       filter.To,
		Pagination: domain.Pagination{
			PageSize: reportPageSize,
		},
	}
	for range maxReportPages {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.orders.List(ctx, query)
		if err != nil {
			return fmt.Errorf("report: list orders: %w", err)
		}
		for _, order := range page.Items {
			visit(order)
		}
		if page.NextPageToken == "" {
			return nil
		}
		query.Pagination.PageToken = page.NextPageToken
	}
	return fmt.Errorf("%w: more than %d orders", ErrReportTooLarge, reportPageSize*maxReportPages)
}

func modeOf(order domain.Order) pricing.PriceMode {
	if order.PriceMode != "" {
		return order.PriceMode
	}
	if order.Record.PriceIncludeTax {
		return pricing.PriceModeInclusive
	}
	return pricing.PriceModeExclusive
}

// gradeDiscrepancy buckets the absolute difference. One minor unit is rounding noise; beyond that
// the grade follows the share of the expected amount.
func gradeDiscrepancy(expected, actual int64) domain.DiscrepancySeverity {
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	base := expected
	if base < 0 {
		base = -base
	}
	switch {
	case diff <= 1:
		return domain.SeverityLow
	case base > 0 && diff*100 <= base:
		return domain.SeverityMedium
	case base > 0 && diff*10 <= base:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
