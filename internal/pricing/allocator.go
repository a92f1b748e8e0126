package pricing

import "github.com/shopspring/decimal"

// AllocateDiscount prorates discount over lines worth values, in order.
//
// Every line except the last receives round(discount*value/total); the last line takes whatever
// remains so the parts always add up to the whole. The discount is capped at the cart value, so
// the result sums to min(discount, Σ values). When the remainder does not fit the last line (it
// can be negative, or larger than the line, when many small lines all round up or down) the last
// line is clamped and the residue moves to earlier lines from the back, each kept within
// [0, value].
func AllocateDiscount(values []int64, discount int64) []int64 {
	allocations := make([]int64, len(values))
	if discount <= 0 || len(values) == 0 {
		return allocations
	}

	var total int64
	for _, value := range values {
		if value > 0 {
			total += value
		}
	}
	if total == 0 {
		return allocations
	}

	applied := min(discount, total)
	appliedDec := decimal.NewFromInt(applied)
	totalDec := decimal.NewFromInt(total)

	last := len(values) - 1
	var allocated int64
	for i := 0; i < last; i++ {
		value := max(values[i], 0)
		share := RoundRatio(appliedDec.Mul(decimal.NewFromInt(value)), totalDec)
		share = clamp(share, 0, value)
		allocations[i] = share
		allocated += share
	}

	lastValue := max(values[last], 0)
	remainder := applied - allocated
	switch {
	case remainder > lastValue:
		allocations[last] = lastValue
		spreadExcess(allocations, values, remainder-lastValue)
	case remainder < 0:
		allocations[last] = 0
		spreadDeficit(allocations, -remainder)
	default:
		allocations[last] = remainder
	}

	return allocations
}

// spreadExcess adds excess to lines before the last, walking backwards, without exceeding a line.
func spreadExcess(allocations []int64, values []int64, excess int64) {
	for i := len(allocations) - 2; i >= 0 && excess > 0; i-- {
		room := max(values[i], 0) - allocations[i]
		take := min(room, excess)
		if take <= 0 {
			continue
		}
		allocations[i] += take
		excess -= take
	}
}

// spreadDeficit takes deficit back from lines before the last, walking backwards, never below zero.
func spreadDeficit(allocations []int64, deficit int64) {
	for i := len(allocations) - 2; i >= 0 && deficit > 0; i-- {
		take := min(allocations[i], deficit)
		if take <= 0 {
			continue
		}
		allocations[i] -= take
		deficit -= take
	}
}

func clamp(value, lo, hi int64) int64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
