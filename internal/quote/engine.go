// Package quote computes the target bid/ask ladder for one tick. It is pure
// arithmetic: no exchange state, no rounding (precision is applied at the
// submission boundary by the adapter).
package quote

import "maker-bot-go/internal/models"

// Ladder emits the spot-mode ladder: for each level 1..levels, one buy below
// and one sell above the mid, stepped by mid*spreadPercent, all with the
// same amount.
func Ladder(mid, spreadPercent float64, levels int, amount float64) models.TargetLadder {
	spread := mid * spreadPercent
	ladder := make(models.TargetLadder, 0, levels*2)
	for i := 1; i <= levels; i++ {
		step := float64(i) * spread
		ladder = append(ladder,
			models.TargetEntry{Side: models.Buy, Price: mid - step, Amount: amount},
			models.TargetEntry{Side: models.Sell, Price: mid + step, Amount: amount},
		)
	}
	return ladder
}

// SingleLevel emits the margin-mode ladder: exactly one buy/sell pair offset
// by (gap+1) spread widths from the mid.
func SingleLevel(mid, spreadPercent, gap, amount float64) models.TargetLadder {
	step := (gap + 1) * mid * spreadPercent
	return models.TargetLadder{
		{Side: models.Buy, Price: mid - step, Amount: amount},
		{Side: models.Sell, Price: mid + step, Amount: amount},
	}
}

// OrderAmount derives the per-order size from net equity: a fixed equity
// percentage converted into asset units at the mid-price.
func OrderAmount(equity, amountPercent, mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	return equity * amountPercent / mid
}
