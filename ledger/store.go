/*
store.go - Persistence interfaces for accounts, entries, and referral stats

PURPOSE:
  Defines the boundary between domain logic and the database. The Store
  keeps the ledger append-only and exposes the one atomic balance
  mutation the whole system is allowed to use: ApplyDelta.

APPEND-ONLY CONTRACT:
  - Append() is the only way to create an entry.
  - MarkProcessed() is the only permitted update, and it can flip a cash
    redemption from PENDING to PROCESSED exactly once. No other field of
    an entry ever changes, and nothing is deleted.

ATOMIC BALANCE UPDATES:
  ApplyDelta must be a single conditional update: the "would this go
  negative?" check and the write happen in one statement so two
  concurrent debits can never both pass against a stale read.

TRANSACTIONS:
  TxStore.WithTx runs a function against a transactional view. The
  Reward Engine uses it to pair entry-append with balance-update; the
  referral propagator uses it to make registration, bonus, and stats
  bumps one atomic unit.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Accounts, append-only ledger, referral stats
// =============================================================================

type Store interface {
	// CreateAccount persists a new account and assigns its id.
	// The referral code must be unique; ReferredBy is stored as given.
	CreateAccount(ctx context.Context, acct Account) (*Account, error)

	// Account returns the account or (nil, nil) when missing.
	Account(ctx context.Context, id int64) (*Account, error)

	// AccountByCode resolves a referral code to its owner, (nil, nil) when
	// the code matches no account.
	AccountByCode(ctx context.Context, code string) (*Account, error)

	// ListAccounts returns all accounts ordered by id.
	ListAccounts(ctx context.Context) ([]Account, error)

	// SetEnabled toggles the soft-disable flag.
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// Append persists a ledger entry and assigns its monotonic id.
	// This is the ONLY way an entry comes into existence.
	Append(ctx context.Context, e Entry) (*Entry, error)

	// ApplyDelta atomically adds delta to the account balance, failing
	// with ErrInsufficientBalance when the result would be negative and
	// ErrAccountNotFound when the account doesn't exist. Returns the new
	// balance. The precondition check and the write are one statement.
	ApplyDelta(ctx context.Context, accountID, delta int64) (int64, error)

	// EntriesFor returns the newest entries first. limit <= 0 means all.
	EntriesFor(ctx context.Context, accountID int64, limit int) ([]Entry, error)

	// Entry returns a single entry or (nil, nil) when missing.
	Entry(ctx context.Context, id int64) (*Entry, error)

	// MarkProcessed transitions a PENDING cash redemption to PROCESSED.
	// Already-PROCESSED entries are a successful no-op. Entries of any
	// other category fail validation.
	MarkProcessed(ctx context.Context, entryID int64) error

	// LedgerSum replays the ledger: the sum of all deltas for the account.
	// Used to verify the balance invariant, never to serve reads.
	LedgerSum(ctx context.Context, accountID int64) (int64, error)

	// ReferralStats returns the aggregate counts, zero-valued when the
	// account has never been credited a referral.
	ReferralStats(ctx context.Context, accountID int64) (*ReferralStats, error)

	// BumpReferralCount increments the level-N count (N in 1..3).
	BumpReferralCount(ctx context.Context, accountID int64, level int) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
// If fn returns an error the transaction is rolled back, otherwise it is
// committed. The Store passed to fn is only valid inside fn.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ADMIN AUDIT LOG - Separate append-only trail, decoupled from the ledger
// =============================================================================

// AdminAction identifies what an administrator did.
type AdminAction string

const (
	ActionPointsCredited   AdminAction = "points_credited"
	ActionPointsDebited    AdminAction = "points_debited"
	ActionAccountCreated   AdminAction = "account_created"
	ActionAccountEnabled   AdminAction = "account_enabled"
	ActionAccountDisabled  AdminAction = "account_disabled"
	ActionAccountDeleted   AdminAction = "account_deleted"
	ActionRewardCreated    AdminAction = "reward_created"
	ActionRewardUpdated    AdminAction = "reward_updated"
	ActionRewardDeleted    AdminAction = "reward_deleted"
	ActionActivityCreated  AdminAction = "activity_created"
	ActionActivityUpdated  AdminAction = "activity_updated"
	ActionActivityDeleted  AdminAction = "activity_deleted"
	ActionProductCreated   AdminAction = "product_created"
	ActionProductUpdated   AdminAction = "product_updated"
	ActionProductDeleted   AdminAction = "product_deleted"
	ActionCashoutProcessed AdminAction = "cash_redemption_processed"
	ActionPasswordReset    AdminAction = "password_reset"
)

// AdminLogEntry records who did what when. Immutable, append-only,
// independent lifecycle from ledger entries; correlated with them only
// by description/target.
type AdminLogEntry struct {
	ID              int64
	AdminID         string
	TargetAccountID *int64 // nil for actions without a target account
	Action          AdminAction
	Details         string
	CreatedAt       time.Time
}

// AuditLog stores admin log entries. Also append-only.
type AuditLog interface {
	AppendAdminLog(ctx context.Context, e AdminLogEntry) (*AdminLogEntry, error)
	RecentAdminLog(ctx context.Context, limit int) ([]AdminLogEntry, error)
}
