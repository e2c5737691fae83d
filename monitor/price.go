package monitor

import "github.com/shopspring/decimal"

// ExitPrice returns entry+target snapped to the nearest tick, rounded to 2 decimals.
func ExitPrice(entry, target, tick decimal.Decimal) decimal.Decimal {
	raw := entry.Add(target)
	if !tick.IsPositive() {
		return raw.Round(2)
	}
	steps := raw.Div(tick).Round(0)
	return steps.Mul(tick).Round(2)
}

// SliceQuantities splits qty into chunks of at most limit, in placement order.
func SliceQuantities(qty, limit int) []int {
	if qty <= 0 || limit <= 0 {
		return nil
	}
	slices := make([]int, 0, (qty+limit-1)/limit)
	for qty > 0 {
		n := min(qty, limit)
		slices = append(slices, n)
		qty -= n
	}
	return slices
}
