/*
handlers_test.go - HTTP-level tests for the API

Exercises the full request path: router, handlers, engine, propagator,
and the in-memory store. Focuses on status code mapping and the
end-to-end flows (register -> redeem -> cashout -> process).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/ledger"
	memstore "github.com/meridian/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(memstore.NewMemory(), nil)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func registerAccount(t *testing.T, srv *httptest.Server, name, code string) AccountDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts",
		RegisterRequest{Name: name, ReferralCode: code})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var acct AccountDTO
	require.NoError(t, json.Unmarshal(body, &acct))
	return acct
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	return er.Code
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestAPI_Register(t *testing.T) {
	srv, _ := newTestServer(t)

	acct := registerAccount(t, srv, "Alice", "")
	assert.Equal(t, "Alice", acct.Name)
	assert.Len(t, acct.ReferralCode, 8)
	assert.Equal(t, int64(1000), acct.Balance, "welcome bonus")
	assert.Equal(t, "Bronze", acct.Tier)
	assert.True(t, acct.Enabled)
}

func TestAPI_Register_WithReferral(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := registerAccount(t, srv, "Alice", "")
	registerAccount(t, srv, "Bob", alice.ReferralCode)

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d", srv.URL, alice.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reloaded AccountDTO
	require.NoError(t, json.Unmarshal(body, &reloaded))
	assert.Equal(t, int64(3500), reloaded.Balance, "welcome 1000 + referral 2500")

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d/referrals", srv.URL, alice.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats ReferralStatsDTO
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Level1)
}

func TestAPI_Register_InvalidCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts",
		RegisterRequest{Name: "Mallory", ReferralCode: "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_referral_code", errorCode(t, body))
}

// =============================================================================
// BALANCE & ENTRIES
// =============================================================================

func TestAPI_GetBalance_TierAndMultipliers(t *testing.T) {
	srv, h := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	// Push into Gold.
	_, err := h.Engine.Award(context.Background(), ledger.AwardInput{
		AccountID: acct.ID, Delta: 120_000,
		Category: ledger.CategoryEarned, Description: "seed",
	})
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d/balance", srv.URL, acct.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bal BalanceDTO
	require.NoError(t, json.Unmarshal(body, &bal))
	assert.Equal(t, int64(121_000), bal.Balance)
	assert.Equal(t, "Gold", bal.Tier)
	assert.Equal(t, "2", bal.PremiumMultiplier)
	assert.Equal(t, "0.25", bal.POSMultiplier)
}

func TestAPI_GetAccount_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestAPI_Redeem(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/redeem", srv.URL, acct.ID),
		RedeemRequest{Cost: 400, RewardID: "mug-01", Description: "Coffee mug"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var award AwardResponse
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, int64(600), award.NewBalance)
	assert.Equal(t, int64(-400), award.Entry.Delta)
	assert.Equal(t, string(ledger.CategoryRedeemed), award.Entry.Category)
}

func TestAPI_Redeem_Insufficient_409(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/redeem", srv.URL, acct.ID),
		RedeemRequest{Cost: 99_999, Description: "Yacht"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_balance", errorCode(t, body))
}

func TestAPI_Redeem_DisabledAccount_403(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, _ := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/admin/accounts/%d/disable", srv.URL, acct.ID),
		AdminActionRequest{AdminID: "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/redeem", srv.URL, acct.ID),
		RedeemRequest{Cost: 100, Description: "Blocked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "account_disabled", errorCode(t, body))
}

// =============================================================================
// ACTIVITIES
// =============================================================================

func TestAPI_RecordActivity_Fixed(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/activities", srv.URL, acct.ID),
		ActivityRequest{ActivityType: "daily_checkin"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var award AwardResponse
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, int64(50), award.Entry.Delta)
	assert.Equal(t, int64(1050), award.NewBalance)
}

func TestAPI_RecordActivity_PremiumAtBronze_NoPoints(t *testing.T) {
	// Bronze multiplier is zero: the request is rejected rather than
	// writing a zero-delta entry.
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, _ := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/activities", srv.URL, acct.ID),
		ActivityRequest{ActivityType: "premium_purchase", BaseValue: 500})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RecordActivity_PremiumAtSilver(t *testing.T) {
	srv, h := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	_, err := h.Engine.Award(context.Background(), ledger.AwardInput{
		AccountID: acct.ID, Delta: 9_000,
		Category: ledger.CategoryEarned, Description: "seed",
	})
	require.NoError(t, err) // balance 10,000 -> Silver

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/activities", srv.URL, acct.ID),
		ActivityRequest{ActivityType: "premium_purchase", BaseValue: 500})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var award AwardResponse
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, int64(500), award.Entry.Delta, "Silver premium multiplier is 1.0")
}

func TestAPI_RecordActivity_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, _ := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/activities", srv.URL, acct.ID),
		ActivityRequest{ActivityType: "pyramid_scheme"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Adjustment_AndAuditTrail(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/adjustments",
		AdjustmentRequest{AdminID: "admin-1", AccountID: acct.ID, Delta: -500, Reason: "Fraud clawback"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var award AwardResponse
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, int64(500), award.NewBalance)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/admin/log", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logEntries []AdminLogEntryDTO
	require.NoError(t, json.Unmarshal(body, &logEntries))
	require.Len(t, logEntries, 1)
	assert.Equal(t, "points_debited", logEntries[0].Action)
	assert.Equal(t, "admin-1", logEntries[0].AdminID)
	assert.Equal(t, "Fraud clawback", logEntries[0].Details)
	require.NotNil(t, logEntries[0].TargetAccountID)
	assert.Equal(t, acct.ID, *logEntries[0].TargetAccountID)
}

func TestAPI_CashoutFlow(t *testing.T) {
	// Register -> seed -> cashout (PENDING) -> process (PROCESSED) ->
	// process again (idempotent).
	srv, h := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	_, err := h.Engine.Award(context.Background(), ledger.AwardInput{
		AccountID: acct.ID, Delta: 9_000,
		Category: ledger.CategoryEarned, Description: "seed",
	})
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/accounts/%d/cashout", srv.URL, acct.ID),
		CashoutRequest{Amount: 5_000, Description: "Gift card"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var award AwardResponse
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, string(ledger.StatusPending), award.Entry.Status)
	assert.Equal(t, int64(5_000), award.NewBalance)

	processURL := fmt.Sprintf("%s/api/admin/cashouts/%d/process", srv.URL, award.Entry.ID)
	resp, body = doJSON(t, http.MethodPost, processURL, AdminActionRequest{AdminID: "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var entry EntryDTO
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, string(ledger.StatusProcessed), entry.Status)

	// Idempotent.
	resp, _ = doJSON(t, http.MethodPost, processURL, AdminActionRequest{AdminID: "admin-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d", srv.URL, acct.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reloaded AccountDTO
	require.NoError(t, json.Unmarshal(body, &reloaded))
	assert.Equal(t, int64(5_000), reloaded.Balance, "processing must not debit twice")
}

func TestAPI_EnableDisable(t *testing.T) {
	srv, _ := newTestServer(t)
	acct := registerAccount(t, srv, "Alice", "")

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/admin/accounts/%d/disable", srv.URL, acct.ID),
		AdminActionRequest{AdminID: "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto AccountDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.False(t, dto.Enabled)

	resp, body = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/admin/accounts/%d/enable", srv.URL, acct.ID),
		AdminActionRequest{AdminID: "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.True(t, dto.Enabled)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_Scenarios_TierLadder(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "tier-ladder"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/accounts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var accounts []AccountDTO
	require.NoError(t, json.Unmarshal(body, &accounts))
	require.Len(t, accounts, 5)

	tiers := map[string]bool{}
	for _, a := range accounts {
		tiers[a.Tier] = true
	}
	for _, want := range []string{"Bronze", "Silver", "Purple", "Gold", "Platinum"} {
		assert.True(t, tiers[want], "expected an account in tier %s", want)
	}
}

func TestAPI_Scenarios_ReferralChain(t *testing.T) {
	srv, h := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "referral-chain"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	accounts, err := h.Store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 4)

	// Root of the chain has one referral at each level.
	stats, err := h.Store.ReferralStats(context.Background(), accounts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Level1)
	assert.Equal(t, 1, stats.Level2)
	assert.Equal(t, 1, stats.Level3)
}

func TestAPI_Scenarios_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
