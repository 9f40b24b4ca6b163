/*
reconciler.go - Background ledger verification

PURPOSE:
  Periodically verifies the two durable invariants against the raw data:
  1. Every account balance equals the sum of its ledger deltas.
  2. Every referral count equals a recount of the referred-by graph.
  The reconciler is strictly read-only: drift is logged for operator
  attention, never auto-corrected, because a silent fixup would hide
  the bug that caused it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Recounts referral levels by walking ReferredBy chains (max 3 hops)
  - Reports per-account drift and a summary line per sweep

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the reconciler is active (default: true)

USAGE:
  rec := NewReconciler(store)
  rec.Start()
  // ... later
  rec.Stop()

SEE ALSO:
  - ledger/store.go: LedgerSum
  - referral/propagator.go: The write path the recount cross-checks
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/meridian/loyalty-engine/ledger"
)

// Reconciler cross-checks balances and referral stats against the ledger.
type Reconciler struct {
	Store         ledger.Store
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciler creates a new reconciler.
func NewReconciler(store ledger.Store) *Reconciler {
	return &Reconciler{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the background sweep.
func (rc *Reconciler) Start() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.Enabled {
		log.Println("[Reconciler] Disabled, not starting")
		return
	}

	rc.ticker = time.NewTicker(rc.CheckInterval)
	rc.wg.Add(1)

	go rc.run()

	log.Printf("[Reconciler] Started with check interval: %v", rc.CheckInterval)
}

// Stop stops the reconciler.
func (rc *Reconciler) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.ticker != nil {
		rc.ticker.Stop()
		close(rc.stop)
		rc.wg.Wait()
		log.Println("[Reconciler] Stopped")
	}
}

func (rc *Reconciler) run() {
	defer rc.wg.Done()

	// Run immediately on start
	rc.sweep()

	for {
		select {
		case <-rc.ticker.C:
			rc.sweep()
		case <-rc.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rc *Reconciler) RunNow() {
	rc.sweep()
}

func (rc *Reconciler) sweep() {
	ctx := context.Background()

	accounts, err := rc.Store.ListAccounts(ctx)
	if err != nil {
		log.Printf("[Reconciler] Error listing accounts: %v", err)
		return
	}

	driftCount := 0
	driftCount += rc.checkBalances(ctx, accounts)
	driftCount += rc.checkReferralStats(ctx, accounts)

	if driftCount > 0 {
		log.Printf("[Reconciler] Sweep finished: %d accounts checked, %d DRIFTED", len(accounts), driftCount)
	} else {
		log.Printf("[Reconciler] Sweep finished: %d accounts checked, all consistent", len(accounts))
	}
}

// checkBalances verifies balance == sum of ledger deltas per account.
func (rc *Reconciler) checkBalances(ctx context.Context, accounts []ledger.Account) int {
	drifted := 0
	for _, acct := range accounts {
		sum, err := rc.Store.LedgerSum(ctx, acct.ID)
		if err != nil {
			log.Printf("[Reconciler] Error summing ledger for account %d: %v", acct.ID, err)
			continue
		}
		if sum != acct.Balance {
			drifted++
			log.Printf("[Reconciler] DRIFT account %d (%s): balance=%d ledger sum=%d",
				acct.ID, acct.Name, acct.Balance, sum)
		}
	}
	return drifted
}

// checkReferralStats recounts levels from the referred-by graph and
// compares with the stored aggregates.
func (rc *Reconciler) checkReferralStats(ctx context.Context, accounts []ledger.Account) int {
	type counts struct{ l1, l2, l3 int }
	expected := make(map[int64]counts, len(accounts))

	for _, acct := range accounts {
		code := acct.ReferredBy
		seen := map[int64]bool{acct.ID: true}
		for level := 1; level <= 3 && code != ""; level++ {
			ancestor, err := rc.Store.AccountByCode(ctx, code)
			if err != nil {
				log.Printf("[Reconciler] Error resolving code %q: %v", code, err)
				break
			}
			if ancestor == nil || seen[ancestor.ID] {
				break
			}
			seen[ancestor.ID] = true
			c := expected[ancestor.ID]
			switch level {
			case 1:
				c.l1++
			case 2:
				c.l2++
			case 3:
				c.l3++
			}
			expected[ancestor.ID] = c
			code = ancestor.ReferredBy
		}
	}

	drifted := 0
	for _, acct := range accounts {
		stats, err := rc.Store.ReferralStats(ctx, acct.ID)
		if err != nil {
			log.Printf("[Reconciler] Error loading referral stats for account %d: %v", acct.ID, err)
			continue
		}
		want := expected[acct.ID]
		if stats.Level1 != want.l1 || stats.Level2 != want.l2 || stats.Level3 != want.l3 {
			drifted++
			log.Printf("[Reconciler] DRIFT referral stats account %d (%s): stored=%d/%d/%d recount=%d/%d/%d",
				acct.ID, acct.Name, stats.Level1, stats.Level2, stats.Level3, want.l1, want.l2, want.l3)
		}
	}
	return drifted
}
