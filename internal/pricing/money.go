package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxCartValue bounds the pre-discount value of a cart. Lines that would push the cart past it are
// normalized to zero, which keeps tax and totals (at most twice the cart) inside int64.
const MaxCartValue int64 = math.MaxInt64 / 4

var (
	decimalTwo     = decimal.NewFromInt(2)
	decimalHundred = decimal.NewFromInt(100)
)

// Round converts an exact amount to whole minor units, rounding half away from zero. It is the
// only rounding rule used by the package.
func Round(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

// RoundRatio returns num/den rounded half away from zero. The quotient is taken with an exact
// remainder so the result is never rounded twice. den must not be zero.
func RoundRatio(num, den decimal.Decimal) int64 {
	quotient, remainder := num.QuoRem(den, 0)
	if remainder.Abs().Mul(decimalTwo).GreaterThanOrEqual(den.Abs()) {
		if num.Sign()*den.Sign() < 0 {
			quotient = quotient.Sub(decimal.NewFromInt(1))
		} else {
			quotient = quotient.Add(decimal.NewFromInt(1))
		}
	}
	return quotient.IntPart()
}

func ratePercent(rate float64) decimal.Decimal {
	if rate == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(rate)
}
