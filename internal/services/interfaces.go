package services

import (
	"context"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
)

// EventLogger receives snake_case events with structured fields.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// PricingService quotes carts for terminals and their customer displays.
type PricingService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (domain.PricingQuote, error)
}

// OrderService checks out carts and serves persisted orders.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error)
	Receipt(ctx context.Context, orderID string) (Receipt, error)
}

// ReportService derives revenue figures from persisted records.
type ReportService interface {
	SalesSummary(ctx context.Context, filter ReportFilter) (domain.SalesSummary, error)
	Reconcile(ctx context.Context, filter ReportFilter) (domain.ReconciliationReport, error)
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// Engine computes order totals.
type Engine interface {
	Compute(in pricing.Input) (pricing.OrderTotals, error)
}

// OrderEventPublisher announces persisted orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPersisted(ctx context.Context, order domain.Order) error
}

// QuoteCommand prices a cart draft. Sequence orders updates for the customer display; zero lets
// the service assign one from the clock.
type QuoteCommand struct {
	StoreID       string
	TerminalID    string
	Sequence      int64
	Items         []domain.OrderLineItem
	OrderDiscount int64
}

// CheckoutCommand freezes a cart into an order.
type CheckoutCommand struct {
	StoreID       string
	TerminalID    string
	Items         []domain.OrderLineItem
	OrderDiscount int64
}

// ReportFilter scopes reports to a store and a creation time window.
type ReportFilter struct {
	StoreID string
	From    *time.Time
	To      *time.Time
}

// Receipt is the printable form of a persisted order with amounts already formatted.
type Receipt struct {
	OrderID         string        `json:"orderId"`
	StoreID         string        `json:"storeId"`
	TerminalID      string        `json:"terminalId"`
	Currency        string        `json:"currency"`
	PriceIncludeTax bool          `json:"priceIncludeTax"`
	Lines           []ReceiptLine `json:"lines"`
	Subtotal        string        `json:"subtotal"`
	Discount        string        `json:"discount"`
	Tax             string        `json:"tax"`
	Total           string        `json:"total"`
	CustomerPayment string        `json:"customerPayment"`
	IssuedAt        time.Time     `json:"issuedAt"`
}

// ReceiptLine is one printed line item.
type ReceiptLine struct {
	Label          string  `json:"label"`
	Quantity       int64   `json:"quantity"`
	UnitPrice      string  `json:"unitPrice"`
	Discount       string  `json:"discount,omitempty"`
	TaxRatePercent float64 `json:"taxRatePercent"`
	Amount         string  `json:"amount"`
}
