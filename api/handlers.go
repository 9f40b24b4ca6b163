/*
handlers.go - HTTP API handlers for the loyalty points engine

PURPOSE:
  Exposes the points engine via REST. Handles HTTP request/response and
  JSON serialization, delegating all business rules to the domain layer.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Register (optional referral code)
    GET    /api/accounts                    List accounts
    GET    /api/accounts/{id}               Account + tier
    GET    /api/accounts/{id}/balance       Balance + multipliers
    GET    /api/accounts/{id}/entries       Ledger history (newest first)
    GET    /api/accounts/{id}/referrals     Referral stats

  Points:
    POST   /api/accounts/{id}/redeem        Reward redemption (debit)
    POST   /api/accounts/{id}/cashout       Cash-out (debit, PENDING)
    POST   /api/accounts/{id}/activities    Activity allocation (credit)

  Admin:
    POST   /api/admin/adjustments           Manual balance adjustment
    POST   /api/admin/cashouts/{entryID}/process   Idempotent
    POST   /api/admin/accounts/{id}/enable
    POST   /api/admin/accounts/{id}/disable
    GET    /api/admin/log                   Audit trail

ERROR HANDLING:
  Business failures map to status codes with a machine-readable code:
  - 400 validation / invalid_referral_code
  - 403 account_disabled
  - 404 not_found
  - 409 insufficient_balance
  - 500 internal
  InsufficientBalance is deliberately distinct so callers can show
  "insufficient points" instead of a server error.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/referral"
	"github.com/meridian/loyalty-engine/tier"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.TxStore
	Engine     *ledger.Engine
	Propagator *referral.Propagator
	Trail      *ledger.Trail
	Audit      ledger.AuditLog

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the engine, propagator, and audit trail around one
// store. The store doubles as the audit log when it implements it
// (both bundled implementations do).
func NewHandler(store ledger.TxStore, notifier ledger.Notifier) *Handler {
	h := &Handler{
		Store:      store,
		Engine:     ledger.NewEngine(store, notifier),
		Propagator: referral.NewPropagator(store, notifier),
	}
	if auditLog, ok := store.(ledger.AuditLog); ok {
		h.Audit = auditLog
		h.Trail = ledger.NewTrail(auditLog)
	}
	return h
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Register creates an account, applying referral side effects atomically.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acct, err := h.Propagator.Register(r.Context(), referral.RegisterInput{
		Name:       req.Name,
		ReferredBy: req.ReferralCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, accountDTO(*acct))
}

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = accountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account with its derived tier.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(*acct))
}

// GetBalance returns the balance with tier and multipliers.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	t := tier.Of(acct.Balance)
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:         acct.ID,
		Balance:           acct.Balance,
		Tier:              string(t.Name),
		PremiumMultiplier: t.Premium.String(),
		POSMultiplier:     t.POS.String(),
	})
}

// GetEntries returns the ledger history, newest first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Store.EntriesFor(r.Context(), acct.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReferralStats returns the level-1/2/3 referral counts.
func (h *Handler) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	stats, err := h.Store.ReferralStats(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load referral stats", err)
		return
	}

	writeJSON(w, http.StatusOK, ReferralStatsDTO{
		AccountID: stats.AccountID,
		Level1:    stats.Level1,
		Level2:    stats.Level2,
		Level3:    stats.Level3,
	})
}

// =============================================================================
// POINT HANDLERS - redemption, cash-out, activity allocation
// =============================================================================

// Redeem debits points for a reward. Customer-initiated: the account
// must be enabled, and insufficiency is a distinct 409.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Cost <= 0 {
		writeError(w, http.StatusBadRequest, "Cost must be positive", nil)
		return
	}

	res, err := h.Engine.Award(r.Context(), ledger.AwardInput{
		AccountID:      id,
		Delta:          -req.Cost,
		Category:       ledger.CategoryRedeemed,
		Description:    req.Description,
		Reference:      req.RewardID,
		RequireEnabled: true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{Entry: entryDTO(res.Entry), NewBalance: res.NewBalance})
}

// Cashout debits points as a pending payout.
func (h *Handler) Cashout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req CashoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	res, err := h.Engine.Award(r.Context(), ledger.AwardInput{
		AccountID:      id,
		Delta:          -req.Amount,
		Category:       ledger.CategoryCashRedemption,
		Description:    req.Description,
		Status:         ledger.StatusPending,
		RequireEnabled: true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{Entry: entryDTO(res.Entry), NewBalance: res.NewBalance})
}

// RecordActivity credits points for a product activity. The multiplier
// for premium/pos activities is read from the balance before the award
// is applied, so one award never straddles two tiers.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	activity, found := tier.Lookup(req.ActivityType)
	if !found {
		writeError(w, http.StatusBadRequest, "Unknown activity type", nil)
		return
	}

	delta, err := tier.AllocationFor(activity, acct.Balance, req.BaseValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid activity input", err)
		return
	}
	if delta == 0 {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Activity %s yields no points at tier %s", activity.Type, tier.Of(acct.Balance).Name), nil)
		return
	}

	res, err := h.Engine.Award(r.Context(), ledger.AwardInput{
		AccountID:      acct.ID,
		Delta:          delta,
		Category:       ledger.CategoryEarned,
		Description:    fmt.Sprintf("Activity: %s", activity.Type),
		Reference:      activity.Type,
		RequireEnabled: true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{Entry: entryDTO(res.Entry), NewBalance: res.NewBalance})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a manual balance correction and records it
// in the audit trail with the same description.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AdminID == "" {
		writeError(w, http.StatusBadRequest, "admin_id is required", nil)
		return
	}

	res, err := h.Engine.Award(r.Context(), ledger.AwardInput{
		AccountID:   req.AccountID,
		Delta:       req.Delta,
		Category:    ledger.CategoryAdminAdjustment,
		Description: req.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	action := ledger.ActionPointsCredited
	if req.Delta < 0 {
		action = ledger.ActionPointsDebited
	}
	h.Trail.Record(r.Context(), req.AdminID, action, &req.AccountID, req.Reason)

	writeJSON(w, http.StatusOK, AwardResponse{Entry: entryDTO(res.Entry), NewBalance: res.NewBalance})
}

// ProcessCashout transitions a PENDING cash redemption to PROCESSED.
// Idempotent: processing an already-processed entry is a success.
func (h *Handler) ProcessCashout(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}

	var req AdminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.MarkProcessed(r.Context(), entryID); err != nil {
		writeDomainError(w, err)
		return
	}

	entry, err := h.Store.Entry(r.Context(), entryID)
	if err != nil || entry == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload entry", err)
		return
	}

	h.Trail.Record(r.Context(), req.AdminID, ledger.ActionCashoutProcessed, &entry.AccountID,
		fmt.Sprintf("Processed cash redemption entry %d", entryID))

	writeJSON(w, http.StatusOK, entryDTO(*entry))
}

// EnableAccount lifts the soft-disable flag.
func (h *Handler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true, ledger.ActionAccountEnabled)
}

// DisableAccount soft-disables the account. Ledger history is kept;
// accounts are never hard-deleted.
func (h *Handler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false, ledger.ActionAccountDisabled)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool, action ledger.AdminAction) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AdminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.SetEnabled(r.Context(), id, enabled); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Trail.Record(r.Context(), req.AdminID, action, &id, "")

	acct, err := h.Store.Account(r.Context(), id)
	if err != nil || acct == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload account", err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(*acct))
}

// GetAdminLog returns the audit trail, newest first.
func (h *Handler) GetAdminLog(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "Audit log not available", nil)
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Audit.RecentAdminLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load admin log", err)
		return
	}

	dtos := make([]AdminLogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AdminLogEntryDTO{
			ID:              e.ID,
			AdminID:         e.AdminID,
			TargetAccountID: e.TargetAccountID,
			Action:          string(e.Action),
			Details:         e.Details,
			CreatedAt:       e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadAccount(w http.ResponseWriter, r *http.Request) (*ledger.Account, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	acct, err := h.Store.Account(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return nil, false
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return nil, false
	}
	return acct, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidReferralCode):
		writeCodedError(w, http.StatusBadRequest, "invalid_referral_code", err)
	case errors.Is(err, ledger.ErrValidation):
		writeCodedError(w, http.StatusBadRequest, "validation", err)
	case ledger.IsNotFound(err):
		writeCodedError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ledger.ErrAccountDisabled):
		writeCodedError(w, http.StatusForbidden, "account_disabled", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeCodedError(w, http.StatusConflict, "insufficient_balance", err)
	default:
		writeCodedError(w, http.StatusInternalServerError, "internal", err)
	}
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{
		Error: http.StatusText(status),
		Code:  code,
		Details: func() string {
			if err != nil {
				return err.Error()
			}
			return ""
		}(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
