/*
allocation.go - Activity-based point allocation

PURPOSE:
  Computes the delta awarded for a product activity. Most activity types
  carry a fixed point value; the two multiplier-bearing types (premium
  and point-of-sale purchases) award floor(base x tier multiplier),
  where the multiplier comes from the account balance at the moment of
  entry - before the award is applied, so a single award never straddles
  two tiers.
*/
package tier

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTIVITY TYPES
// =============================================================================

// Kind distinguishes fixed-value activities from multiplier-bearing ones.
type Kind string

const (
	KindFixed   Kind = "fixed"
	KindPremium Kind = "premium" // premium/card purchase, uses Tier.Premium
	KindPOS     Kind = "pos"     // point-of-sale purchase, uses Tier.POS
)

// Activity is one way an account can earn points.
type Activity struct {
	Type        string
	Kind        Kind
	PointsValue int64 // fixed activities only
}

// Catalog holds the built-in activity types. A production deployment
// would load these per product; the allocation math is the same.
var Catalog = map[string]Activity{
	"daily_checkin":    {Type: "daily_checkin", Kind: KindFixed, PointsValue: 50},
	"survey":           {Type: "survey", Kind: KindFixed, PointsValue: 200},
	"product_review":   {Type: "product_review", Kind: KindFixed, PointsValue: 150},
	"premium_purchase": {Type: "premium_purchase", Kind: KindPremium},
	"pos_purchase":     {Type: "pos_purchase", Kind: KindPOS},
}

// Lookup resolves an activity type name, (Activity{}, false) when unknown.
func Lookup(activityType string) (Activity, bool) {
	a, ok := Catalog[activityType]
	return a, ok
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocationFor computes the awarded delta for an activity.
// balance is the account balance before the award; base is the entered
// base value for multiplier-bearing activities (ignored for fixed ones).
func AllocationFor(a Activity, balance, base int64) (int64, error) {
	switch a.Kind {
	case KindFixed:
		return a.PointsValue, nil
	case KindPremium:
		return scale(base, Of(balance).Premium)
	case KindPOS:
		return scale(base, Of(balance).POS)
	default:
		return 0, fmt.Errorf("unknown activity kind %q", a.Kind)
	}
}

// scale returns floor(base x multiplier).
func scale(base int64, multiplier decimal.Decimal) (int64, error) {
	if base < 0 {
		return 0, fmt.Errorf("base value must be non-negative, got %d", base)
	}
	return decimal.NewFromInt(base).Mul(multiplier).Floor().IntPart(), nil
}
