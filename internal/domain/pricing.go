package domain

import (
	"time"

	"github.com/tillpoint/api/internal/pricing"
)

// PricingQuote is the priced view of a cart draft returned to terminals and pushed to customer
// displays.
type PricingQuote struct {
	StoreID    string
	TerminalID string
	Currency   string
	Sequence   int64
	Totals     pricing.OrderTotals
	QuotedAt   time.Time
}

// TotalsFrom copies the order level figures out of an engine result.
func TotalsFrom(t pricing.OrderTotals) OrderTotals {
	return OrderTotals{
		GrossSubtotal:   t.GrossSubtotal,
		Subtotal:        t.Subtotal,
		Discount:        t.Discount,
		AppliedDiscount: t.AppliedDiscount,
		Tax:             t.Tax,
		Total:           t.Total,
		CustomerPayment: t.CustomerPayment,
	}
}
