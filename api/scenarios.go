/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates accounts, ledger
	entries, and referral chains that demonstrate specific features.

AVAILABLE SCENARIOS:

	fresh-start:     Empty database, ready for manual exploration
	tier-ladder:     One account per tier, from Bronze to Platinum
	referral-chain:  Four-deep referral chain with level-1/2/3 stats
	cashout-queue:   Accounts with pending cash redemptions to process

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register accounts via the propagator (codes, bonuses, stats)
 3. Credit/debit points via the engine (so balances match the ledger)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tier-ladder"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared helpers
  - referral/propagator.go: Registration used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/referral"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-start",
		Name:        "Fresh Start",
		Description: "Empty database, ready for manual exploration",
	},
	{
		ID:          "tier-ladder",
		Name:        "Tier Ladder",
		Description: "One account per tier, from Bronze to Platinum",
	},
	{
		ID:          "referral-chain",
		Name:        "Referral Chain",
		Description: "Four-deep referral chain with level-1/2/3 stats",
	},
	{
		ID:          "cashout-queue",
		Name:        "Cash-Out Queue",
		Description: "Accounts with pending cash redemptions to process",
	},
}

// resetter is implemented by stores that can wipe all data (dev only).
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	if !h.resetStore(w, ctx) {
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "fresh-start":
		// Reset is the whole scenario.
	case "tier-ladder":
		err = loadTierLadderScenario(ctx, h)
	case "referral-chain":
		err = loadReferralChainScenario(ctx, h)
	case "cashout-queue":
		err = loadCashoutQueueScenario(ctx, h)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if !h.resetStore(w, r.Context()) {
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetStore(w http.ResponseWriter, ctx context.Context) bool {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotFound, "Store does not support reset", nil)
		return false
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return false
	}
	return true
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadTierLadderScenario places one account in each tier.
func loadTierLadderScenario(ctx context.Context, h *Handler) error {
	targets := []struct {
		name    string
		balance int64
	}{
		{"Bea Bronze", 500},
		{"Sam Silver", 15_000},
		{"Pat Purple", 60_000},
		{"Gail Gold", 120_000},
		{"Petra Platinum", 200_000},
	}

	for _, t := range targets {
		acct, err := h.Propagator.Register(ctx, referral.RegisterInput{Name: t.name})
		if err != nil {
			return err
		}
		// Registration already granted the welcome bonus; top up to the
		// target balance.
		if topUp := t.balance - acct.Balance; topUp != 0 {
			_, err = h.Engine.Award(ctx, ledger.AwardInput{
				AccountID:   acct.ID,
				Delta:       topUp,
				Category:    ledger.CategoryEarned,
				Description: "Scenario seed",
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// loadReferralChainScenario registers a four-deep chain: ancestor gets
// level-1/2/3 counts of 1 each.
func loadReferralChainScenario(ctx context.Context, h *Handler) error {
	names := []string{"Root Referrer", "First Child", "Second Child", "Third Child"}

	code := ""
	for _, name := range names {
		acct, err := h.Propagator.Register(ctx, referral.RegisterInput{Name: name, ReferredBy: code})
		if err != nil {
			return err
		}
		code = acct.ReferralCode
	}
	return nil
}

// loadCashoutQueueScenario creates accounts with pending cash redemptions.
func loadCashoutQueueScenario(ctx context.Context, h *Handler) error {
	for i, name := range []string{"Casey Cashout", "Quinn Queue"} {
		acct, err := h.Propagator.Register(ctx, referral.RegisterInput{Name: name})
		if err != nil {
			return err
		}
		_, err = h.Engine.Award(ctx, ledger.AwardInput{
			AccountID:   acct.ID,
			Delta:       20_000,
			Category:    ledger.CategoryEarned,
			Description: "Scenario seed",
		})
		if err != nil {
			return err
		}
		_, err = h.Engine.Award(ctx, ledger.AwardInput{
			AccountID:   acct.ID,
			Delta:       int64(-5_000 * (i + 1)),
			Category:    ledger.CategoryCashRedemption,
			Description: "Gift card payout",
			Status:      ledger.StatusPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
