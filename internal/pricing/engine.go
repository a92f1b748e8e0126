package pricing

import (
	"fmt"
	"math"
)

// Engine exposes Compute as a method for callers that depend on an interface. It holds no state.
type Engine struct{}

// Compute prices the input. See the package level Compute.
func (Engine) Compute(in Input) (OrderTotals, error) {
	return Compute(in)
}

// Compute prices a cart: it prorates the order discount, taxes every line and folds the lines into
// order totals.
//
// Malformed values never fail the call. They are normalized to zero and listed in
// OrderTotals.Adjustments. The only error is ErrInvariantViolation, raised when the result does not
// verify.
func Compute(in Input) (OrderTotals, error) {
	var adjustments []Adjustment

	mode := in.Mode
	if mode != PriceModeExclusive && mode != PriceModeInclusive {
		adjustments = append(adjustments, Adjustment{Field: "price_mode", Reason: ReasonUnknownPriceMode})
		mode = PriceModeExclusive
	}

	discount := in.OrderDiscount
	if discount < 0 {
		adjustments = append(adjustments, Adjustment{Field: "order_discount", Reason: ReasonNegativeDiscount})
		discount = 0
	}

	lines, lineAdjustments := normalizeLines(in.Items)
	adjustments = append(adjustments, lineAdjustments...)

	values := make([]int64, len(lines))
	for i, line := range lines {
		values[i] = line.value
	}
	discounts := AllocateDiscount(values, discount)

	items := make([]ItemBreakdown, len(lines))
	for i, line := range lines {
		split := CalculateTax(line.value, discounts[i], line.rate, mode)
		items[i] = ItemBreakdown{
			ID:        line.id,
			LineValue: line.value,
			Discount:  discounts[i],
			Subtotal:  split.Subtotal,
			Tax:       split.Tax,
			LineTotal: split.Subtotal + split.Tax,
		}
	}

	totals := Aggregate(mode, discount, items)
	if discount > totals.GrossSubtotal {
		adjustments = append(adjustments, Adjustment{Field: "order_discount", Reason: ReasonDiscountExceedsCart})
	}
	totals.Adjustments = adjustments

	if err := Verify(totals); err != nil {
		return OrderTotals{}, err
	}
	return totals, nil
}

type normalizedLine struct {
	id    string
	value int64
	rate  float64
}

func normalizeLines(items []LineItem) ([]normalizedLine, []Adjustment) {
	lines := make([]normalizedLine, len(items))
	var (
		adjustments []Adjustment
		cart        int64
	)
	for i, item := range items {
		line := normalizedLine{id: item.ID, rate: item.TaxRatePercent}

		if !validTaxRate(item.TaxRatePercent) {
			adjustments = append(adjustments, Adjustment{ItemID: item.ID, Field: "tax_rate_percent", Reason: ReasonInvalidTaxRate})
			line.rate = 0
		}

		switch {
		case item.UnitPrice < 0:
			adjustments = append(adjustments, Adjustment{ItemID: item.ID, Field: "unit_price", Reason: ReasonNegativeUnitPrice})
		case item.Quantity <= 0:
			adjustments = append(adjustments, Adjustment{ItemID: item.ID, Field: "quantity", Reason: ReasonNonPositiveQuantity})
		case item.UnitPrice > 0 && item.Quantity > (MaxCartValue-cart)/item.UnitPrice:
			adjustments = append(adjustments, Adjustment{ItemID: item.ID, Field: "unit_price", Reason: ReasonAmountOverflow})
		default:
			line.value = item.UnitPrice * item.Quantity
			cart += line.value
		}

		lines[i] = line
	}
	return lines, adjustments
}

func validTaxRate(rate float64) bool {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return false
	}
	return rate >= 0 && rate <= 100
}

// Verify checks every identity that must hold between the lines and the order totals, including
// that the persisted record reconciles back to the net subtotal.
func Verify(totals OrderTotals) error {
	var gross, discount, subtotal, tax int64
	for _, item := range totals.Items {
		if item.LineValue < 0 || item.Discount < 0 || item.Subtotal < 0 || item.Tax < 0 {
			return fmt.Errorf("%w: item %q has a negative amount", ErrInvariantViolation, item.ID)
		}
		if item.Discount > item.LineValue {
			return fmt.Errorf("%w: item %q discount %d exceeds line value %d", ErrInvariantViolation, item.ID, item.Discount, item.LineValue)
		}
		if item.LineTotal != item.Subtotal+item.Tax {
			return fmt.Errorf("%w: item %q line total %d != %d+%d", ErrInvariantViolation, item.ID, item.LineTotal, item.Subtotal, item.Tax)
		}
		gross += item.LineValue
		discount += item.Discount
		subtotal += item.Subtotal
		tax += item.Tax
	}

	switch {
	case totals.Discount < 0 || totals.Total < 0 || totals.CustomerPayment < 0:
		return fmt.Errorf("%w: negative order amount", ErrInvariantViolation)
	case gross != totals.GrossSubtotal:
		return fmt.Errorf("%w: gross subtotal %d != item sum %d", ErrInvariantViolation, totals.GrossSubtotal, gross)
	case discount != totals.AppliedDiscount:
		return fmt.Errorf("%w: applied discount %d != item sum %d", ErrInvariantViolation, totals.AppliedDiscount, discount)
	case totals.AppliedDiscount != min(totals.Discount, totals.GrossSubtotal):
		return fmt.Errorf("%w: applied discount %d for order discount %d on cart %d", ErrInvariantViolation, totals.AppliedDiscount, totals.Discount, totals.GrossSubtotal)
	case subtotal != totals.Subtotal:
		return fmt.Errorf("%w: subtotal %d != item sum %d", ErrInvariantViolation, totals.Subtotal, subtotal)
	case tax != totals.Tax:
		return fmt.Errorf("%w: tax %d != item sum %d", ErrInvariantViolation, totals.Tax, tax)
	case totals.Total != totals.Subtotal+totals.Tax:
		return fmt.Errorf("%w: total %d != %d+%d", ErrInvariantViolation, totals.Total, totals.Subtotal, totals.Tax)
	case totals.CustomerPayment != totals.Total:
		return fmt.Errorf("%w: customer payment %d != total %d", ErrInvariantViolation, totals.CustomerPayment, totals.Total)
	}

	if revenue := Reconcile(RecordFor(totals)); revenue != totals.Subtotal {
		return fmt.Errorf("%w: reconciled revenue %d != subtotal %d", ErrInvariantViolation, revenue, totals.Subtotal)
	}
	return nil
}
