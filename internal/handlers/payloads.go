package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
)

const maxCartBodySize = 256 * 1024

type lineItemRequest struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	UnitPrice      int64   `json:"unitPrice"`
	Quantity       int64   `json:"quantity"`
	TaxRatePercent float64 `json:"taxRatePercent"`
}

type cartRequest struct {
	StoreID       string            `json:"storeId"`
	Sequence      int64             `json:"sequence"`
	Items         []lineItemRequest `json:"items"`
	OrderDiscount int64             `json:"orderDiscount"`
}

func (c cartRequest) lineItems() []domain.OrderLineItem {
	items := make([]domain.OrderLineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, domain.OrderLineItem{
			ID:             item.ID,
			Label:          item.Label,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			TaxRatePercent: item.TaxRatePercent,
		})
	}
	return items
}

// decodeJSONBody reads a single JSON object. An empty body leaves dst untouched when allowEmpty
// is set.
func decodeJSONBody(r *http.Request, dst any, limit int64, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, errors.New("must be RFC3339 timestamp")
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type orderTotalsPayload struct {
	GrossSubtotal   int64 `json:"grossSubtotal"`
	Subtotal        int64 `json:"subtotal"`
	Discount        int64 `json:"discount"`
	AppliedDiscount int64 `json:"appliedDiscount"`
	Tax             int64 `json:"tax"`
	Total           int64 `json:"total"`
	CustomerPayment int64 `json:"customerPayment"`
}

type orderItemPayload struct {
	ID             string  `json:"id"`
	Label          string  `json:"label,omitempty"`
	UnitPrice      int64   `json:"unitPrice"`
	Quantity       int64   `json:"quantity"`
	TaxRatePercent float64 `json:"taxRatePercent"`
}

type orderPayload struct {
	ID            string                  `json:"id"`
	StoreID       string                  `json:"storeId"`
	TerminalID    string                  `json:"terminalId"`
	Status        string                  `json:"status"`
	Currency      string                  `json:"currency"`
	PriceMode     string                  `json:"priceMode"`
	OrderDiscount int64                   `json:"orderDiscount"`
	Items         []orderItemPayload      `json:"items"`
	Breakdown     []pricing.ItemBreakdown `json:"breakdown"`
	Totals        orderTotalsPayload      `json:"totals"`
	Record        pricing.Record          `json:"record"`
	Adjustments   []pricing.Adjustment    `json:"adjustments,omitempty"`
	CreatedAt     string                  `json:"createdAt"`
	UpdatedAt     string                  `json:"updatedAt"`
	PersistedAt   string                  `json:"persistedAt,omitempty"`
	ReconciledAt  string                  `json:"reconciledAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:             item.ID,
			Label:          item.Label,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			TaxRatePercent: item.TaxRatePercent,
		})
	}
	breakdown := order.Breakdown
	if breakdown == nil {
		breakdown = []pricing.ItemBreakdown{}
	}
	return orderPayload{
		ID:            order.ID,
		StoreID:       order.StoreID,
		TerminalID:    order.TerminalID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		PriceMode:     string(order.PriceMode),
		OrderDiscount: order.OrderDiscount,
		Items:         items,
		Breakdown:     breakdown,
		Totals: orderTotalsPayload{
			GrossSubtotal:   order.Totals.GrossSubtotal,
			Subtotal:        order.Totals.Subtotal,
			Discount:        order.Totals.Discount,
			AppliedDiscount: order.Totals.AppliedDiscount,
			Tax:             order.Totals.Tax,
			Total:           order.Totals.Total,
			CustomerPayment: order.Totals.CustomerPayment,
		},
		Record:       order.Record,
		Adjustments:  order.Adjustments,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PersistedAt:  formatTimePtr(order.PersistedAt),
		ReconciledAt: formatTimePtr(order.ReconciledAt),
	}
}
