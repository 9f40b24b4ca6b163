/*
Package ledger provides the core loyalty-points accounting engine.

PURPOSE:
  This package contains the domain types and the Reward Engine for a
  points-based loyalty program. Every balance change flows through here:
  product-activity earnings, reward redemptions, cash-outs, referral
  bonuses, and manual admin adjustments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A person holding points (balance, enabled flag, referral code)
  - Entry: An immutable ledger record of a single balance change
  - Category: What kind of change an entry represents
  - BalanceEvent: Fire-and-forget notification payload after an award

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified after commit. The single
     exception is the PENDING -> PROCESSED status transition on cash
     redemptions, which never changes the financial content of the entry.
  2. Single write path: Account.Balance is only mutated through
     Store.ApplyDelta inside an engine transaction.
  3. Auditability: balance == sum of all entry deltas for the account,
     always.

SEE ALSO:
  - engine.go: The Reward Engine (atomic award operation)
  - store.go: Persistence interfaces
  - errors.go: Sentinel and structured errors
*/
package ledger

import "time"

// =============================================================================
// CATEGORIES - What kind of balance change an entry records
// =============================================================================

type Category string

const (
	CategoryEarned          Category = "EARNED"           // Product-activity allocation
	CategoryRedeemed        Category = "REDEEMED"         // Reward redemption (debit)
	CategoryAdminAdjustment Category = "ADMIN_ADJUSTMENT" // Manual admin correction
	CategoryCashRedemption  Category = "CASH_REDEMPTION"  // Pending real-world payout (debit)
	CategoryWelcomeBonus    Category = "WELCOME_BONUS"    // One-time registration grant
	CategoryReferralBonus   Category = "REFERRAL_BONUS"   // Credit to a referrer
)

// ValidCategory reports whether c is one of the known entry categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryEarned, CategoryRedeemed, CategoryAdminAdjustment,
		CategoryCashRedemption, CategoryWelcomeBonus, CategoryReferralBonus:
		return true
	}
	return false
}

// =============================================================================
// PROCESSING STATUS - Cash redemptions only
// =============================================================================

// Status tracks the payout lifecycle of a cash redemption entry.
// The only legal transition is PENDING -> PROCESSED. Entries of any
// other category carry no status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
)

// =============================================================================
// ACCOUNT - A person holding points
// =============================================================================

// Account is the holder of a point balance.
//
// INVARIANTS:
//   - Balance is never negative.
//   - Balance equals the sum of all entry deltas for the account.
//   - ReferralCode is unique and assigned at creation.
//   - ReferredBy is immutable once set.
//
// Accounts are never hard-deleted while ledger entries reference them;
// they are disabled instead.
type Account struct {
	ID           int64
	Name         string
	Balance      int64
	Enabled      bool
	ReferralCode string // unique code others use to name this account
	ReferredBy   string // referral code of the referring account, "" if none
	CreatedAt    time.Time
}

// =============================================================================
// ENTRY - One immutable balance change
// =============================================================================

// Entry is a single fact in the append-only ledger.
type Entry struct {
	ID          int64 // monotonic; per-account order matches commit order
	AccountID   int64
	Delta       int64 // signed, never zero
	Category    Category
	Description string // required, human-readable
	Reference   string // optional reward/redemption id
	Status      Status // set for cash redemptions only
	CreatedAt   time.Time
}

// =============================================================================
// REFERRAL STATS - Per-account aggregate counts
// =============================================================================

// ReferralStats counts descendants at up to three referral levels.
// Derived from the account graph but maintained incrementally: the
// propagator bumps ancestors at registration time of a descendant.
type ReferralStats struct {
	AccountID int64
	Level1    int // direct referrals
	Level2    int // referrals of referrals
	Level3    int
}

// =============================================================================
// BALANCE EVENT - Post-commit notification payload
// =============================================================================

// BalanceEvent is delivered to the Notifier after a successful award.
// Delivery is best-effort; a lost event never affects the ledger.
type BalanceEvent struct {
	AccountID  int64     `json:"account_id"`
	Delta      int64     `json:"delta"`
	NewBalance int64     `json:"new_balance"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Notifier receives balance-change events. Implementations must not
// assume they are called on the request goroutine, and their errors are
// logged and dropped, never propagated to the award caller.
type Notifier interface {
	BalanceChanged(evt BalanceEvent) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(evt BalanceEvent) error

func (f NotifierFunc) BalanceChanged(evt BalanceEvent) error { return f(evt) }
