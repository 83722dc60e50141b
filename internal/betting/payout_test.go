package betting

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPayout_Scenario(t *testing.T) {
	// 100 of 400 winning stake in a pot of 1000 → 250.
	payouts := Payout(d(1000), map[string]decimal.Decimal{
		"fan1": d(100),
		"fan2": d(300),
	})
	assert.True(t, payouts["fan1"].Equal(d(250)), "got %s", payouts["fan1"])
	assert.True(t, payouts["fan2"].Equal(d(750)), "got %s", payouts["fan2"])
	assert.True(t, Sum(payouts).Equal(d(1000)))
}

func TestPayout_NoWinners(t *testing.T) {
	assert.Empty(t, Payout(d(1000), nil))
	assert.Empty(t, Payout(d(1000), map[string]decimal.Decimal{"fan1": decimal.Zero}))
	assert.Empty(t, Payout(decimal.Zero, map[string]decimal.Decimal{"fan1": d(10)}))
}

func TestPayout_RepeatingFraction(t *testing.T) {
	payouts := Payout(d(100), map[string]decimal.Decimal{
		"a": d(1), "b": d(1), "c": d(1),
	})
	want := decimal.RequireFromString("33.33333333")
	for id, p := range payouts {
		assert.True(t, p.Equal(want), "%s got %s", id, p)
	}
	sum := Sum(payouts)
	assert.True(t, sum.LessThanOrEqual(d(100)))
	assert.True(t, d(100).Sub(sum).LessThan(d(0.0000001)))
}

// Property: Σ payout ≤ pot, and the gap is under one unit of PayoutScale
// per winner.
func TestPayout_SumNeverExceedsPot(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	unit := decimal.New(1, -PayoutScale)

	for i := 0; i < 500; i++ {
		winners := 1 + rng.Intn(12)
		stakes := make(map[string]decimal.Decimal, winners)
		pot := decimal.Zero
		for w := 0; w < winners; w++ {
			s := decimal.NewFromInt(int64(1 + rng.Intn(1000)))
			stakes[fmt.Sprintf("fan%d", w)] = s
			pot = pot.Add(s)
		}
		// Losing stakes enlarge the pot beyond the winning total.
		pot = pot.Add(decimal.NewFromInt(int64(rng.Intn(5000))))

		sum := Sum(Payout(pot, stakes))
		assert.True(t, sum.LessThanOrEqual(pot), "case %d: %s > %s", i, sum, pot)
		gap := pot.Sub(sum)
		assert.True(t, gap.LessThan(unit.Mul(decimal.NewFromInt(int64(winners)))),
			"case %d: gap %s too large", i, gap)
	}
}
