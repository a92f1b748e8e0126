package domain

import (
	"time"

	"github.com/tillpoint/api/internal/pricing"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the stages an order passes through the pricing pipeline.
type OrderStatus string

const (
	// OrderStatusDraft indicates the cart is still being edited and has not been priced for checkout.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPriced indicates totals were computed for checkout but not yet stored.
	OrderStatusPriced OrderStatus = "priced"
	// OrderStatusPersisted indicates the totals are frozen in the order record.
	OrderStatusPersisted OrderStatus = "persisted"
	// OrderStatusReconciled indicates reporting re-derived the record and it matched the breakdown.
	OrderStatusReconciled OrderStatus = "reconciled"
)

var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusDraft:     OrderStatusPriced,
	OrderStatusPriced:    OrderStatusPersisted,
	OrderStatusPersisted: OrderStatusReconciled,
}

// CanTransitionTo reports whether next directly follows s. Orders only move forward one stage at a
// time.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return orderTransitions[s] == next
}

// Order captures an order as it moves from checkout to reporting.
type Order struct {
	ID            string
	StoreID       string
	TerminalID    string
	Status        OrderStatus
	Currency      string
	PriceMode     pricing.PriceMode
	OrderDiscount int64
	Items         []OrderLineItem
	Breakdown     []pricing.ItemBreakdown
	Totals        OrderTotals
	Record        pricing.Record
	Adjustments   []pricing.Adjustment
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PersistedAt   *time.Time
	ReconciledAt  *time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	GrossSubtotal   int64
	Subtotal        int64
	Discount        int64
	AppliedDiscount int64
	Tax             int64
	Total           int64
	CustomerPayment int64
}

// OrderLineItem mirrors cart items at the time of checkout.
type OrderLineItem struct {
	ID             string
	Label          string
	UnitPrice      int64
	Quantity       int64
	TaxRatePercent float64
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	StoreID    string
	TerminalID string
	Statuses   []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
