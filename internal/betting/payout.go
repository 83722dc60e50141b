package betting

import (
	"github.com/shopspring/decimal"
)

// PayoutScale is the number of decimal places payouts are truncated to.
// Truncation (never rounding up) keeps the sum of payouts at or below the pot.
var PayoutScale int32 = 8

// Payout splits pot among winners in proportion to their winning stake:
//
//	payout_i = stake_i / Σ stake * pot
//
// Each share is truncated to PayoutScale places, so Σ payout ≤ pot and the
// shortfall is below 10^-PayoutScale per winner. A zero or empty winning
// stake yields no payouts; the caller treats the pot as burned.
func Payout(pot decimal.Decimal, winningStakes map[string]decimal.Decimal) map[string]decimal.Decimal {
	total := decimal.Zero
	for _, s := range winningStakes {
		if s.IsPositive() {
			total = total.Add(s)
		}
	}

	payouts := make(map[string]decimal.Decimal, len(winningStakes))
	if !total.IsPositive() || !pot.IsPositive() {
		return payouts
	}

	for id, s := range winningStakes {
		if !s.IsPositive() {
			continue
		}
		// QuoRem truncates toward zero at the requested precision.
		share, _ := pot.Mul(s).QuoRem(total, PayoutScale)
		payouts[id] = share
	}
	return payouts
}

// Sum totals a payout map.
func Sum(payouts map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p)
	}
	return total
}
