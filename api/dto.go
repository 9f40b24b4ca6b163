/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/tier"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Balance      int64  `json:"balance"`
	Enabled      bool   `json:"enabled"`
	ReferralCode string `json:"referral_code"`
	ReferredBy   string `json:"referred_by,omitempty"`
	Tier         string `json:"tier"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func accountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:           a.ID,
		Name:         a.Name,
		Balance:      a.Balance,
		Enabled:      a.Enabled,
		ReferralCode: a.ReferralCode,
		ReferredBy:   a.ReferredBy,
		Tier:         string(tier.Of(a.Balance).Name),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

// RegisterRequest creates an account, optionally naming a referrer.
type RegisterRequest struct {
	Name         string `json:"name"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// BalanceDTO is the balance view with tier and multipliers.
type BalanceDTO struct {
	AccountID         int64  `json:"account_id"`
	Balance           int64  `json:"balance"`
	Tier              string `json:"tier"`
	PremiumMultiplier string `json:"premium_multiplier"`
	POSMultiplier     string `json:"pos_multiplier"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID          int64  `json:"id"`
	AccountID   int64  `json:"account_id"`
	Delta       int64  `json:"delta"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Reference   string `json:"reference,omitempty"`
	Status      string `json:"status,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func entryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Delta:       e.Delta,
		Category:    string(e.Category),
		Description: e.Description,
		Reference:   e.Reference,
		Status:      string(e.Status),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

// AwardResponse is returned by every balance-changing endpoint.
type AwardResponse struct {
	Entry      EntryDTO `json:"entry"`
	NewBalance int64    `json:"new_balance"`
}

// RedeemRequest debits points for a reward.
type RedeemRequest struct {
	Cost        int64  `json:"cost"`
	RewardID    string `json:"reward_id,omitempty"`
	Description string `json:"description"`
}

// CashoutRequest debits points as a pending real-world payout.
type CashoutRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// ActivityRequest credits points for a product activity.
type ActivityRequest struct {
	ActivityType string `json:"activity_type"`
	BaseValue    int64  `json:"base_value,omitempty"` // multiplier-bearing activities only
}

// AdjustmentRequest is a manual admin balance correction.
type AdjustmentRequest struct {
	AdminID   string `json:"admin_id"`
	AccountID int64  `json:"account_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
}

// =============================================================================
// REFERRALS & ADMIN LOG
// =============================================================================

// ReferralStatsDTO reports the level-1/2/3 counts.
type ReferralStatsDTO struct {
	AccountID int64 `json:"account_id"`
	Level1    int   `json:"level1"`
	Level2    int   `json:"level2"`
	Level3    int   `json:"level3"`
}

// AdminLogEntryDTO represents one admin log entry.
type AdminLogEntryDTO struct {
	ID              int64  `json:"id"`
	AdminID         string `json:"admin_id"`
	TargetAccountID *int64 `json:"target_account_id,omitempty"`
	Action          string `json:"action"`
	Details         string `json:"details,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// AdminActionRequest carries the acting admin for non-adjustment actions.
type AdminActionRequest struct {
	AdminID string `json:"admin_id"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error body. Code carries the machine
// readable kind so clients can branch (e.g. "insufficient_balance").
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
