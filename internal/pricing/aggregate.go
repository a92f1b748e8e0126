package pricing

// Aggregate folds priced lines into order totals. orderDiscount is carried as the reported
// discount; the applied discount is whatever the lines actually absorbed.
func Aggregate(mode PriceMode, orderDiscount int64, items []ItemBreakdown) OrderTotals {
	totals := OrderTotals{
		Mode:     mode,
		Items:    items,
		Discount: orderDiscount,
	}
	for _, item := range items {
		totals.GrossSubtotal += item.LineValue
		totals.AppliedDiscount += item.Discount
		totals.Subtotal += item.Subtotal
		totals.Tax += item.Tax
	}
	// Both components are already whole units, so round(subtotal+tax) is their sum.
	totals.Total = totals.Subtotal + totals.Tax
	// Inclusive prices already carry tax and exclusive totals add it on top; either way the
	// customer pays the order total.
	totals.CustomerPayment = totals.Total
	return totals
}
