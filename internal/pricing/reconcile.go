package pricing

// Record holds the order fields that are persisted and later read back by reporting. The JSON
// names are a stable contract.
type Record struct {
	Subtotal        int64 `json:"subtotal"`
	Discount        int64 `json:"discount"`
	Tax             int64 `json:"tax"`
	Total           int64 `json:"total"`
	PriceIncludeTax bool  `json:"priceIncludeTax"`
}

// RecordFor maps computed totals to the persisted record.
//
// Exclusive orders store the pre-discount subtotal next to the discount. Inclusive orders store the
// discounted gross amount next to the tax it contains. Reconcile on the result yields the net
// subtotal of totals.
func RecordFor(totals OrderTotals) Record {
	record := Record{
		Discount:        totals.Discount,
		Tax:             totals.Tax,
		Total:           totals.Total,
		PriceIncludeTax: totals.Mode.IncludesTax(),
	}
	if record.PriceIncludeTax {
		record.Subtotal = totals.Subtotal + totals.Tax
	} else {
		record.Subtotal = totals.GrossSubtotal
	}
	return record
}

// Reconcile re-derives net revenue from a persisted record alone.
func Reconcile(record Record) int64 {
	if record.PriceIncludeTax {
		return max(record.Subtotal-record.Tax, 0)
	}
	return max(record.Subtotal-record.Discount, 0)
}
