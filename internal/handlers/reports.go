package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/services"
)

const maxReportBodySize = 4 * 1024

// ReportHandlers serves revenue reports derived from persisted records.
type ReportHandlers struct {
	reports services.ReportService
}

// NewReportHandlers constructs ReportHandlers.
func NewReportHandlers(reports services.ReportService) *ReportHandlers {
	return &ReportHandlers{reports: reports}
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/sales", h.salesSummary)
	r.Post("/reconciliation", h.reconcile)
}

type modeSummaryPayload struct {
	OrderCount int   `json:"orderCount"`
	Revenue    int64 `json:"revenue"`
	Tax        int64 `json:"tax"`
}

type salesSummaryResponse struct {
	StoreID          string                        `json:"storeId,omitempty"`
	From             string                        `json:"from,omitempty"`
	To               string                        `json:"to,omitempty"`
	OrderCount       int                           `json:"orderCount"`
	Revenue          int64                         `json:"revenue"`
	Tax              int64                         `json:"tax"`
	Discount         int64                         `json:"discount"`
	Total            int64                         `json:"total"`
	CustomerPayments int64                         `json:"customerPayments"`
	ByMode           map[string]modeSummaryPayload `json:"byMode"`
	GeneratedAt      string                        `json:"generatedAt"`
}

type discrepancyPayload struct {
	OrderID    string `json:"orderId"`
	StoreID    string `json:"storeId"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Difference int64  `json:"difference"`
	Severity   string `json:"severity"`
	DetectedAt string `json:"detectedAt"`
}

type reconciliationResponse struct {
	StoreID       string               `json:"storeId,omitempty"`
	Checked       int                  `json:"checked"`
	Reconciled    int                  `json:"reconciled"`
	Discrepancies []discrepancyPayload `json:"discrepancies"`
	RunAt         string               `json:"runAt"`
}

type reconcileRequest struct {
	StoreID string     `json:"storeId"`
	From    *time.Time `json:"from"`
	To      *time.Time `json:"to"`
}

func (h *ReportHandlers) salesSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("report_service_unavailable", "report service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	filter := services.ReportFilter{StoreID: strings.TrimSpace(query.Get("store_id"))}
	for _, param := range []struct {
		name   string
		target **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := query.Get(param.name)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", param.name+" must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		*param.target = &ts
	}

	summary, err := h.reports.SalesSummary(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSalesSummaryResponse(summary))
}

func (h *ReportHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("report_service_unavailable", "report service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req reconcileRequest
	if err := decodeJSONBody(r, &req, maxReportBodySize, true); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	report, err := h.reports.Reconcile(ctx, services.ReportFilter{
		StoreID: strings.TrimSpace(req.StoreID),
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReconciliationResponse(report))
}

func buildSalesSummaryResponse(summary domain.SalesSummary) salesSummaryResponse {
	byMode := make(map[string]modeSummaryPayload, len(summary.ByMode))
	for mode, bucket := range summary.ByMode {
		byMode[mode] = modeSummaryPayload{OrderCount: bucket.OrderCount, Revenue: bucket.Revenue, Tax: bucket.Tax}
	}
	return salesSummaryResponse{
		StoreID:          summary.StoreID,
		From:             formatTimePtr(summary.From),
		To:               formatTimePtr(summary.To),
		OrderCount:       summary.OrderCount,
		Revenue:          summary.Revenue,
		Tax:              summary.Tax,
		Discount:         summary.Discount,
		Total:            summary.Total,
		CustomerPayments: summary.CustomerPayments,
		ByMode:           byMode,
		GeneratedAt:      formatTime(summary.GeneratedAt),
	}
}

func buildReconciliationResponse(report domain.ReconciliationReport) reconciliationResponse {
	discrepancies := make([]discrepancyPayload, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		discrepancies = append(discrepancies, discrepancyPayload{
			OrderID:    d.OrderID,
			StoreID:    d.StoreID,
			Expected:   d.Expected,
			Actual:     d.Actual,
			Difference: d.Difference,
			Severity:   string(d.Severity),
			DetectedAt: formatTime(d.DetectedAt),
		})
	}
	return reconciliationResponse{
		StoreID:       report.StoreID,
		Checked:       report.Checked,
		Reconciled:    report.Reconciled,
		Discrepancies: discrepancies,
		RunAt:         formatTime(report.RunAt),
	}
}
