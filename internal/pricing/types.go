// Package pricing turns a cart draft into an exact order breakdown and re-derives revenue from the
// persisted figures. Every amount is an int64 count of currency minor units.
package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// PriceMode tells whether unit prices already contain tax.
type PriceMode string

const (
	// PriceModeExclusive adds tax on top of the unit price.
	PriceModeExclusive PriceMode = "exclusive"
	// PriceModeInclusive treats the unit price as gross, tax included.
	PriceModeInclusive PriceMode = "inclusive"
)

var (
	// ErrInvariantViolation marks a breakdown that disagrees with its own sums. It is a defect in
	// this package, never a consequence of caller input.
	ErrInvariantViolation = errors.New("pricing: invariant violation")
	// ErrUnknownPriceMode is returned by ParsePriceMode.
	ErrUnknownPriceMode = errors.New("pricing: unknown price mode")
)

// ParsePriceMode accepts "inclusive"/"exclusive" in any case.
func ParsePriceMode(value string) (PriceMode, error) {
	switch PriceMode(strings.ToLower(strings.TrimSpace(value))) {
	case PriceModeExclusive:
		return PriceModeExclusive, nil
	case PriceModeInclusive:
		return PriceModeInclusive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriceMode, value)
	}
}

// IncludesTax reports whether the mode is tax inclusive.
func (m PriceMode) IncludesTax() bool {
	return m == PriceModeInclusive
}

// LineItem is one cart line. Position in Input.Items is significant: the last line absorbs the
// discount rounding remainder, so callers must keep the ordering stable between calls for the same
// order.
type LineItem struct {
	ID             string
	UnitPrice      int64
	Quantity       int64
	TaxRatePercent float64
}

// Input is everything Compute needs.
type Input struct {
	Items         []LineItem
	OrderDiscount int64
	Mode          PriceMode
}

// ItemBreakdown is the priced view of one line. Subtotal is the post-discount, pre-tax base.
type ItemBreakdown struct {
	ID        string `json:"id"`
	LineValue int64  `json:"lineValue"`
	Discount  int64  `json:"discount"`
	Subtotal  int64  `json:"subtotal"`
	Tax       int64  `json:"tax"`
	LineTotal int64  `json:"lineTotal"`
}

// OrderTotals is the order level result.
//
// Discount echoes the requested order discount for audit, while AppliedDiscount is the part that
// could actually be taken off the cart (never more than GrossSubtotal) and equals the sum of item
// discounts.
type OrderTotals struct {
	Mode            PriceMode       `json:"priceMode"`
	Items           []ItemBreakdown `json:"items"`
	GrossSubtotal   int64           `json:"grossSubtotal"`
	Subtotal        int64           `json:"subtotal"`
	Discount        int64           `json:"discount"`
	AppliedDiscount int64           `json:"appliedDiscount"`
	Tax             int64           `json:"tax"`
	Total           int64           `json:"total"`
	CustomerPayment int64           `json:"customerPayment"`
	Adjustments     []Adjustment    `json:"adjustments,omitempty"`
}

// AdjustmentReason names why an input value was normalized.
type AdjustmentReason string

const (
	ReasonNegativeUnitPrice   AdjustmentReason = "negative_unit_price"
	ReasonNonPositiveQuantity AdjustmentReason = "non_positive_quantity"
	ReasonInvalidTaxRate      AdjustmentReason = "invalid_tax_rate"
	ReasonAmountOverflow      AdjustmentReason = "amount_overflow"
	ReasonNegativeDiscount    AdjustmentReason = "negative_discount"
	ReasonDiscountExceedsCart AdjustmentReason = "discount_exceeds_cart"
	ReasonUnknownPriceMode    AdjustmentReason = "unknown_price_mode"
)

// Adjustment records one normalization applied to the input. ItemID is empty for order level
// fields.
type Adjustment struct {
	ItemID string           `json:"itemId,omitempty"`
	Field  string           `json:"field"`
	Reason AdjustmentReason `json:"reason"`
}
