/*
Package tier maps point balances to loyalty tiers and reward multipliers.

PURPOSE:
  A tier is a named bracket of account balance. It is derived, never
  persisted: every multiplier lookup re-reads the current balance, so an
  account that crosses a threshold between two awards gets the new
  multiplier on the next award, not retroactively.

THRESHOLDS (inclusive lower bounds, highest match wins):
  Platinum >= 150,000   premium 2.5   pos 0.50
  Gold     >= 100,000   premium 2.0   pos 0.25
  Purple   >=  50,000   premium 1.5   pos 0.10
  Silver   >=  10,000   premium 1.0   pos 0.05
  Bronze        else    premium 0     pos 0

A balance of exactly 150,000 is Platinum, not Gold: thresholds are
checked from highest to lowest.

SEE ALSO:
  - allocation.go: Activity-based award computation using these multipliers
*/
package tier

import "github.com/shopspring/decimal"

// =============================================================================
// TIER - Named balance bracket with multipliers
// =============================================================================

type Name string

const (
	Bronze   Name = "Bronze"
	Silver   Name = "Silver"
	Purple   Name = "Purple"
	Gold     Name = "Gold"
	Platinum Name = "Platinum"
)

// Tier carries the multiplier table for one bracket.
// Premium applies to premium/card activities, POS to point-of-sale ones.
type Tier struct {
	Name    Name
	Premium decimal.Decimal
	POS     decimal.Decimal
}

// threshold pairs a minimum balance with its tier, ordered highest first.
type threshold struct {
	min  int64
	tier Tier
}

var thresholds = []threshold{
	{150000, Tier{Name: Platinum, Premium: dec("2.5"), POS: dec("0.5")}},
	{100000, Tier{Name: Gold, Premium: dec("2.0"), POS: dec("0.25")}},
	{50000, Tier{Name: Purple, Premium: dec("1.5"), POS: dec("0.10")}},
	{10000, Tier{Name: Silver, Premium: dec("1.0"), POS: dec("0.05")}},
	{0, Tier{Name: Bronze, Premium: decimal.Zero, POS: decimal.Zero}},
}

// Of returns the tier for a balance. Pure and O(1).
func Of(balance int64) Tier {
	for _, t := range thresholds {
		if balance >= t.min {
			return t.tier
		}
	}
	return thresholds[len(thresholds)-1].tier
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("tier: bad multiplier constant " + s)
	}
	return d
}
