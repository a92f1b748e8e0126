// Package format renders minor unit amounts for receipts.
package format

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Money formats amounts of a single currency for one locale.
type Money struct {
	unit    currency.Unit
	scale   int
	printer *message.Printer
}

// NewMoney builds a formatter for an ISO 4217 code. An empty locale uses English grouping.
func NewMoney(code, locale string) (*Money, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("format: currency %q: %w", code, err)
	}
	tag := language.English
	if strings.TrimSpace(locale) != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("format: locale %q: %w", locale, err)
		}
		tag = parsed
	}
	scale, _ := currency.Standard.Rounding(unit)
	return &Money{unit: unit, scale: scale, printer: message.NewPrinter(tag)}, nil
}

// Code returns the ISO code.
func (m *Money) Code() string { return m.unit.String() }

// Scale is the number of minor unit digits of the currency.
func (m *Money) Scale() int { return m.scale }

// Format renders amount, expressed in minor units, as "<CODE> <grouped major units>".
func (m *Money) Format(amount int64) string {
	major := decimal.New(amount, -int32(m.scale)).InexactFloat64()
	return m.unit.String() + " " + m.printer.Sprint(number.Decimal(major, number.Scale(m.scale)))
}
