package pricing

import "github.com/shopspring/decimal"

// ItemTax is the tax split of one discounted line.
type ItemTax struct {
	Subtotal int64
	Tax      int64
}

// CalculateTax splits a discounted line into its taxable base and tax.
//
// The discounted line value is (unitPrice - discount/quantity) * quantity, which is exactly
// lineValue - discount; it is floored at zero. In exclusive mode that value is the subtotal and tax
// is added on top. In inclusive mode it is the gross price: the subtotal is backed out of it and
// tax is the difference, so subtotal+tax always equals the gross figure.
func CalculateTax(lineValue, discount int64, taxRatePercent float64, mode PriceMode) ItemTax {
	gross := max(lineValue-discount, 0)
	if gross == 0 {
		return ItemTax{}
	}

	rate := ratePercent(taxRatePercent)
	if rate.IsZero() {
		return ItemTax{Subtotal: gross}
	}

	if mode == PriceModeInclusive {
		// gross / (1 + rate/100) == gross*100 / (100 + rate)
		subtotal := RoundRatio(decimal.NewFromInt(gross).Mul(decimalHundred), decimalHundred.Add(rate))
		return ItemTax{Subtotal: subtotal, Tax: gross - subtotal}
	}

	tax := Round(decimal.NewFromInt(gross).Mul(rate).Shift(-2))
	return ItemTax{Subtotal: gross, Tax: tax}
}
