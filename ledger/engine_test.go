package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/ledger"
	memstore "github.com/meridian/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *memstore.Memory) {
	t.Helper()
	st := memstore.NewMemory()
	return ledger.NewEngine(st, nil), st
}

func mustCreateAccount(t *testing.T, st ledger.Store, name, code string, balance int64) *ledger.Account {
	t.Helper()
	ctx := context.Background()

	acct, err := st.CreateAccount(ctx, ledger.Account{
		Name:         name,
		Enabled:      true,
		ReferralCode: code,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	if balance > 0 {
		_, err = st.ApplyDelta(ctx, acct.ID, balance)
		require.NoError(t, err)
		_, err = st.Append(ctx, ledger.Entry{
			AccountID:   acct.ID,
			Delta:       balance,
			Category:    ledger.CategoryEarned,
			Description: "Seed balance",
			CreatedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
		acct.Balance = balance
	}
	return acct
}

// =============================================================================
// AWARD - HAPPY PATH
// =============================================================================

func TestAward_Credit_AppendsEntryAndUpdatesBalance(t *testing.T) {
	// GIVEN: An account with 100 points
	// WHEN: Awarding +250
	// THEN: Balance is 350 and exactly one new entry records the delta

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Alice", "aaaa1111", 100)

	res, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       250,
		Category:    ledger.CategoryEarned,
		Description: "Survey completed",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(350), res.NewBalance)
	assert.Equal(t, int64(250), res.Entry.Delta)
	assert.Equal(t, ledger.CategoryEarned, res.Entry.Category)

	entries, err := st.EntriesFor(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2) // seed + award
	assert.Equal(t, int64(250), entries[0].Delta, "newest entry first")
}

func TestAward_Debit_Succeeds(t *testing.T) {
	// GIVEN: An account with 500 points
	// WHEN: Redeeming 200
	// THEN: Balance is 300

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Bob", "bbbb2222", 500)

	res, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       -200,
		Category:    ledger.CategoryRedeemed,
		Description: "Coffee mug",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.NewBalance)
}

func TestAward_BalanceMatchesLedgerSum(t *testing.T) {
	// GIVEN: A series of credits and debits
	// THEN: The balance always equals the sum of all ledger deltas

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Carol", "cccc3333", 0)

	deltas := []int64{1000, -300, 450, -50, 25}
	for _, d := range deltas {
		cat := ledger.CategoryEarned
		if d < 0 {
			cat = ledger.CategoryRedeemed
		}
		_, err := engine.Award(ctx, ledger.AwardInput{
			AccountID:   acct.ID,
			Delta:       d,
			Category:    cat,
			Description: "movement",
		})
		require.NoError(t, err)
	}

	reloaded, err := st.Account(ctx, acct.ID)
	require.NoError(t, err)
	sum, err := st.LedgerSum(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, reloaded.Balance)
	assert.Equal(t, int64(1125), reloaded.Balance)
}

// =============================================================================
// AWARD - FAILURE MODES
// =============================================================================

func TestAward_InsufficientBalance_LeavesLedgerUntouched(t *testing.T) {
	// GIVEN: An account with 100 points
	// WHEN: Redeeming 150
	// THEN: ErrInsufficientBalance; no entry appended, balance unchanged

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Dan", "dddd4444", 100)

	_, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       -150,
		Category:    ledger.CategoryRedeemed,
		Description: "Too expensive",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Balance)
	assert.Equal(t, int64(150), insufficient.Requested)

	reloaded, err := st.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), reloaded.Balance)

	entries, err := st.EntriesFor(ctx, acct.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the seed entry should exist")
}

func TestAward_ExactBalanceToZero_Allowed(t *testing.T) {
	// GIVEN: An account with 100 points
	// WHEN: Redeeming exactly 100
	// THEN: Succeeds, balance is zero

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Eve", "eeee5555", 100)

	res, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       -100,
		Category:    ledger.CategoryRedeemed,
		Description: "Everything",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewBalance)
}

func TestAward_MissingAccount(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Award(context.Background(), ledger.AwardInput{
		AccountID:   9999,
		Delta:       10,
		Category:    ledger.CategoryEarned,
		Description: "ghost",
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestAward_DisabledAccount_RequireEnabled(t *testing.T) {
	// GIVEN: A disabled account
	// WHEN: A customer-initiated award (RequireEnabled) and an admin one
	// THEN: The customer award fails; the admin adjustment goes through

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Frank", "ffff6666", 500)
	require.NoError(t, st.SetEnabled(ctx, acct.ID, false))

	_, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:      acct.ID,
		Delta:          -100,
		Category:       ledger.CategoryRedeemed,
		Description:    "Blocked redemption",
		RequireEnabled: true,
	})
	assert.ErrorIs(t, err, ledger.ErrAccountDisabled)

	_, err = engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       -100,
		Category:    ledger.CategoryAdminAdjustment,
		Description: "Admin clawback",
	})
	assert.NoError(t, err, "admin operations ignore the disabled flag")
}

func TestAward_Validation(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Grace", "abcd7777", 100)

	cases := []struct {
		name string
		in   ledger.AwardInput
	}{
		{"zero delta", ledger.AwardInput{AccountID: acct.ID, Delta: 0, Category: ledger.CategoryEarned, Description: "x"}},
		{"empty description", ledger.AwardInput{AccountID: acct.ID, Delta: 10, Category: ledger.CategoryEarned}},
		{"unknown category", ledger.AwardInput{AccountID: acct.ID, Delta: 10, Category: "BOGUS", Description: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Award(ctx, tc.in)
			assert.ErrorIs(t, err, ledger.ErrValidation)
			assert.True(t, ledger.IsClientError(err))
		})
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAward_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: An account with 100 points
	// WHEN: 10 goroutines each try to redeem 30
	// THEN: Exactly 3 succeed and the final balance is 10

	engine, st := newTestEngine(t)
	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Heidi", "1234abcd", 100)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Award(ctx, ledger.AwardInput{
				AccountID:   acct.ID,
				Delta:       -30,
				Category:    ledger.CategoryRedeemed,
				Description: "Concurrent redemption",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 3, succeeded)

	reloaded, err := st.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), reloaded.Balance)

	sum, err := st.LedgerSum(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, reloaded.Balance, sum)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestAward_NotifiesAfterCommit(t *testing.T) {
	// GIVEN: A notifier that records events
	// WHEN: An award succeeds
	// THEN: Exactly one event arrives with the committed balance

	st := memstore.NewMemory()
	events := make(chan ledger.BalanceEvent, 1)
	engine := ledger.NewEngine(st, ledger.NotifierFunc(func(evt ledger.BalanceEvent) error {
		events <- evt
		return nil
	}))

	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Ivan", "9876fedc", 0)

	_, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       500,
		Category:    ledger.CategoryEarned,
		Description: "Product review",
	})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, acct.ID, evt.AccountID)
		assert.Equal(t, int64(500), evt.Delta)
		assert.Equal(t, int64(500), evt.NewBalance)
		assert.Equal(t, "Product review", evt.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no balance event delivered")
	}
}

func TestAward_FailedAward_NoNotification(t *testing.T) {
	st := memstore.NewMemory()
	events := make(chan ledger.BalanceEvent, 1)
	engine := ledger.NewEngine(st, ledger.NotifierFunc(func(evt ledger.BalanceEvent) error {
		events <- evt
		return nil
	}))

	ctx := context.Background()
	acct := mustCreateAccount(t, st, "Judy", "5555aaaa", 10)

	_, err := engine.Award(ctx, ledger.AwardInput{
		AccountID:   acct.ID,
		Delta:       -50,
		Category:    ledger.CategoryRedeemed,
		Description: "Overdraw",
	})
	require.Error(t, err)

	select {
	case <-events:
		t.Fatal("failed award must not notify")
	case <-time.After(100 * time.Millisecond):
	}
}
