/*
Package referral handles registration-time referral propagation.

PURPOSE:
  When an account registers with a referral code, the code's owner gets
  a fixed bonus and up to three ancestors in the referral chain get
  their level counts bumped. Registration, bonus, and stats bumps are
  one atomic unit: if any step fails, no account row exists afterwards.

GRAPH SHAPE:
  The referred-by relationship is a human-readable code, not a foreign
  key, so dangling and even cyclic chains are representable. The code is
  resolved to a concrete account the moment it is validated; after that
  the walk operates on typed accounts only, and it is bounded to exactly
  three hops regardless of graph shape - a cycle can never cause
  unbounded propagation.

SEE ALSO:
  - ledger/engine.go: AwardIn, composed into the registration transaction
  - ledger/store.go: BumpReferralCount
*/
package referral

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/meridian/loyalty-engine/ledger"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// BonusPoints is the fixed credit the direct referrer receives.
	BonusPoints = 2500

	// DefaultWelcomeBonus is granted to every new account unless the
	// propagator is configured otherwise.
	DefaultWelcomeBonus = 1000

	// maxLevels bounds the ancestor walk. Level 1 is the direct
	// referrer; levels 2 and 3 are reached by following ReferredBy.
	maxLevels = 3

	codeBytes    = 4 // 8 hex chars
	codeAttempts = 5
)

// =============================================================================
// PROPAGATOR
// =============================================================================

// Propagator creates accounts and applies referral side effects.
type Propagator struct {
	Store    ledger.TxStore
	Notifier ledger.Notifier // optional, post-commit only
	Logger   *log.Logger     // optional

	// WelcomeBonus overrides DefaultWelcomeBonus; negative disables the
	// welcome grant entirely.
	WelcomeBonus int64
}

func NewPropagator(store ledger.TxStore, notifier ledger.Notifier) *Propagator {
	return &Propagator{Store: store, Notifier: notifier, WelcomeBonus: DefaultWelcomeBonus}
}

// RegisterInput describes a new registration.
type RegisterInput struct {
	Name       string
	ReferredBy string // optional referral code
}

// Register creates the account and applies all referral side effects in
// one store transaction. An unknown (or self-matching) code fails the
// whole registration with ErrInvalidReferralCode.
func (p *Propagator) Register(ctx context.Context, in RegisterInput) (*ledger.Account, error) {
	if in.Name == "" {
		return nil, &ledger.ValidationError{Field: "name", Message: "must not be empty"}
	}

	var (
		created *ledger.Account
		events  []ledger.BalanceEvent
	)

	err := p.Store.WithTx(ctx, func(s ledger.Store) error {
		// Resolve the referrer before creating anything: a code that
		// matches no account rolls the registration back.
		var referrer *ledger.Account
		if in.ReferredBy != "" {
			found, err := s.AccountByCode(ctx, in.ReferredBy)
			if err != nil {
				return err
			}
			if found == nil {
				return ledger.ErrInvalidReferralCode
			}
			referrer = found
		}

		code, err := p.freshCode(ctx, s)
		if err != nil {
			return err
		}

		acct, err := s.CreateAccount(ctx, ledger.Account{
			Name:         in.Name,
			Enabled:      true,
			ReferralCode: code,
			ReferredBy:   in.ReferredBy,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		// A code equal to one's own cannot resolve before creation, but
		// reject it explicitly if it ever slips through.
		if referrer != nil && referrer.ID == acct.ID {
			return ledger.ErrInvalidReferralCode
		}
		created = acct

		if bonus := p.welcomeBonus(); bonus > 0 {
			res, err := ledger.AwardIn(ctx, s, ledger.AwardInput{
				AccountID:   acct.ID,
				Delta:       bonus,
				Category:    ledger.CategoryWelcomeBonus,
				Description: "Welcome bonus",
			})
			if err != nil {
				return err
			}
			created.Balance = res.NewBalance
			events = append(events, balanceEvent(res, bonus))
		}

		if referrer == nil {
			return nil
		}

		res, err := ledger.AwardIn(ctx, s, ledger.AwardInput{
			AccountID:   referrer.ID,
			Delta:       BonusPoints,
			Category:    ledger.CategoryReferralBonus,
			Description: fmt.Sprintf("Referral bonus for signup of %s", acct.Name),
		})
		if err != nil {
			return err
		}
		events = append(events, balanceEvent(res, BonusPoints))

		return p.bumpAncestors(ctx, s, referrer)
	})
	if err != nil {
		return nil, err
	}

	p.notify(events)
	return created, nil
}

// bumpAncestors increments level counts on up to three nearest ancestors.
// The walk follows ReferredBy codes and stops on the first missing hop.
func (p *Propagator) bumpAncestors(ctx context.Context, s ledger.Store, referrer *ledger.Account) error {
	current := referrer
	for level := 1; level <= maxLevels; level++ {
		if err := s.BumpReferralCount(ctx, current.ID, level); err != nil {
			return err
		}
		if current.ReferredBy == "" {
			return nil
		}
		next, err := s.AccountByCode(ctx, current.ReferredBy)
		if err != nil {
			return err
		}
		if next == nil {
			// Dangling code: the chain simply ends here.
			return nil
		}
		current = next
	}
	return nil
}

// freshCode generates an unused referral code. Collisions on 8 random
// hex chars are vanishingly rare; the retry loop covers them anyway.
func (p *Propagator) freshCode(ctx context.Context, s ledger.Store) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		buf := make([]byte, codeBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		code := hex.EncodeToString(buf)
		existing, err := s.AccountByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique referral code after %d attempts", codeAttempts)
}

func (p *Propagator) welcomeBonus() int64 {
	if p.WelcomeBonus < 0 {
		return 0
	}
	if p.WelcomeBonus == 0 {
		return DefaultWelcomeBonus
	}
	return p.WelcomeBonus
}

func (p *Propagator) notify(events []ledger.BalanceEvent) {
	if p.Notifier == nil || len(events) == 0 {
		return
	}
	go func() {
		for _, evt := range events {
			if err := p.Notifier.BalanceChanged(evt); err != nil {
				p.logf("[Referral] notify failed for account %d: %v", evt.AccountID, err)
			}
		}
	}()
}

func (p *Propagator) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func balanceEvent(res *ledger.AwardResult, delta int64) ledger.BalanceEvent {
	return ledger.BalanceEvent{
		AccountID:  res.Entry.AccountID,
		Delta:      delta,
		NewBalance: res.NewBalance,
		Reason:     res.Entry.Description,
		At:         res.Entry.CreatedAt,
	}
}
