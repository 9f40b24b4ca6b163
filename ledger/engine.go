/*
engine.go - The Reward Engine: atomic award operation

PURPOSE:
  Award applies one signed point delta to one account as a single atomic
  unit: append a ledger entry + update the balance, inside one store
  transaction. On success it emits a best-effort BalanceEvent.

INVARIANTS:
  1. Exactly one entry and one balance mutation per successful call.
  2. A failed call leaves both ledger and balance untouched.
  3. A debit never takes the balance below zero.
  4. The notification sits outside the transaction boundary: a slow or
     failing notifier can never roll back a financial write.

ERROR CONTRACT:
  - empty description / zero delta        -> ValidationError
  - missing account                       -> ErrAccountNotFound
  - disabled account + RequireEnabled     -> ErrAccountDisabled
  - debit below zero                      -> InsufficientBalanceError

SEE ALSO:
  - store.go: ApplyDelta, the one atomic balance mutation
  - referral/propagator.go: composes AwardIn into a larger transaction
*/
package ledger

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// AWARD INPUT / RESULT
// =============================================================================

// AwardInput describes one balance change.
type AwardInput struct {
	AccountID   int64
	Delta       int64 // signed, never zero
	Category    Category
	Description string // required
	Reference   string // optional reward/redemption id
	Status      Status // StatusPending for cash redemptions, empty otherwise

	// RequireEnabled rejects the award when the account is disabled.
	// Set for customer-initiated operations only; admin adjustments and
	// referral bonuses go through regardless.
	RequireEnabled bool
}

func (in AwardInput) validate() error {
	if in.Delta == 0 {
		return &ValidationError{Field: "delta", Message: "must be non-zero"}
	}
	if in.Description == "" {
		return &ValidationError{Field: "description", Message: "must not be empty"}
	}
	if !ValidCategory(in.Category) {
		return &ValidationError{Field: "category", Message: "unknown category " + string(in.Category)}
	}
	return nil
}

// AwardResult is the outcome of a successful award.
type AwardResult struct {
	Entry      Entry
	NewBalance int64
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the single write path for point balances.
type Engine struct {
	Store    TxStore
	Notifier Notifier    // optional; nil disables notifications
	Logger   *log.Logger // optional; defaults to the standard logger
}

func NewEngine(store TxStore, notifier Notifier) *Engine {
	return &Engine{Store: store, Notifier: notifier}
}

// Award applies the delta atomically and notifies on success.
func (e *Engine) Award(ctx context.Context, in AwardInput) (*AwardResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var res AwardResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		r, err := AwardIn(ctx, s, in)
		if err != nil {
			return err
		}
		res = *r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Notify(BalanceEvent{
		AccountID:  in.AccountID,
		Delta:      in.Delta,
		NewBalance: res.NewBalance,
		Reason:     in.Description,
		At:         res.Entry.CreatedAt,
	})
	return &res, nil
}

// AwardIn applies one award inside an existing store transaction.
// Callers composing a larger atomic unit (registration with referral
// bonus) use this and emit notifications themselves after commit.
func AwardIn(ctx context.Context, s Store, in AwardInput) (*AwardResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	acct, err := s.Account(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	if in.RequireEnabled && !acct.Enabled {
		return nil, ErrAccountDisabled
	}

	newBalance, err := s.ApplyDelta(ctx, in.AccountID, in.Delta)
	if err != nil {
		return nil, err
	}

	entry, err := s.Append(ctx, Entry{
		AccountID:   in.AccountID,
		Delta:       in.Delta,
		Category:    in.Category,
		Description: in.Description,
		Reference:   in.Reference,
		Status:      in.Status,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &AwardResult{Entry: *entry, NewBalance: newBalance}, nil
}

// Notify delivers a balance event off the request goroutine.
// Failures are logged and dropped; delivery is never part of the
// financial invariant.
func (e *Engine) Notify(evt BalanceEvent) {
	if e.Notifier == nil {
		return
	}
	go func() {
		if err := e.Notifier.BalanceChanged(evt); err != nil {
			e.logf("[Engine] notify failed for account %d: %v", evt.AccountID, err)
		}
	}()
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
