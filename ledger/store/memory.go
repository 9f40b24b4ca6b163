// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/meridian/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	accounts map[int64]ledger.Account
	byCode   map[string]int64
	entries  []ledger.Entry
	stats    map[int64]ledger.ReferralStats
	adminLog []ledger.AdminLogEntry

	nextAccountID int64
	nextEntryID   int64
	nextLogID     int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[int64]ledger.Account),
		byCode:        make(map[string]int64),
		stats:         make(map[int64]ledger.ReferralStats),
		nextAccountID: 1,
		nextEntryID:   1,
		nextLogID:     1,
	}
}

var _ ledger.TxStore = (*Memory)(nil)
var _ ledger.AuditLog = (*Memory)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(acct)
}

func (m *Memory) createAccountLocked(acct ledger.Account) (*ledger.Account, error) {
	if acct.ReferralCode != "" {
		if _, taken := m.byCode[acct.ReferralCode]; taken {
			return nil, &ledger.ValidationError{Field: "referral_code", Message: "already in use"}
		}
	}
	acct.ID = m.nextAccountID
	m.nextAccountID++
	m.accounts[acct.ID] = acct
	if acct.ReferralCode != "" {
		m.byCode[acct.ReferralCode] = acct.ID
	}
	out := acct
	return &out, nil
}

func (m *Memory) Account(_ context.Context, id int64) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(id)
}

func (m *Memory) accountLocked(id int64) (*ledger.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	out := acct
	return &out, nil
}

func (m *Memory) AccountByCode(_ context.Context, code string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountByCodeLocked(code)
}

func (m *Memory) accountByCodeLocked(code string) (*ledger.Account, error) {
	id, ok := m.byCode[code]
	if !ok {
		return nil, nil
	}
	return m.accountLocked(id)
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked()
}

func (m *Memory) listAccountsLocked() ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetEnabled(_ context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEnabledLocked(id, enabled)
}

func (m *Memory) setEnabledLocked(id int64, enabled bool) error {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acct.Enabled = enabled
	m.accounts[id] = acct
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) Append(_ context.Context, e ledger.Entry) (*ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e ledger.Entry) (*ledger.Entry, error) {
	e.ID = m.nextEntryID
	m.nextEntryID++
	m.entries = append(m.entries, e)
	out := e
	return &out, nil
}

func (m *Memory) ApplyDelta(_ context.Context, accountID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(accountID, delta)
}

func (m *Memory) applyDeltaLocked(accountID, delta int64) (int64, error) {
	acct, ok := m.accounts[accountID]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	if acct.Balance+delta < 0 {
		return 0, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Balance:   acct.Balance,
			Requested: -delta,
		}
	}
	acct.Balance += delta
	m.accounts[accountID] = acct
	return acct.Balance, nil
}

func (m *Memory) EntriesFor(_ context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesForLocked(accountID, limit)
}

func (m *Memory) entriesForLocked(accountID int64, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID != accountID {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Entry(_ context.Context, id int64) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryLocked(id)
}

func (m *Memory) entryLocked(id int64) (*ledger.Entry, error) {
	for i := range m.entries {
		if m.entries[i].ID == id {
			out := m.entries[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) MarkProcessed(_ context.Context, entryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markProcessedLocked(entryID)
}

func (m *Memory) markProcessedLocked(entryID int64) error {
	for i := range m.entries {
		if m.entries[i].ID != entryID {
			continue
		}
		if m.entries[i].Category != ledger.CategoryCashRedemption {
			return &ledger.ValidationError{Field: "entry", Message: "not a cash redemption"}
		}
		// Idempotent: already-processed is a successful no-op.
		m.entries[i].Status = ledger.StatusProcessed
		return nil
	}
	return ledger.ErrEntryNotFound
}

func (m *Memory) LedgerSum(_ context.Context, accountID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerSumLocked(accountID)
}

func (m *Memory) ledgerSumLocked(accountID int64) (int64, error) {
	var sum int64
	for i := range m.entries {
		if m.entries[i].AccountID == accountID {
			sum += m.entries[i].Delta
		}
	}
	return sum, nil
}

// =============================================================================
// REFERRAL STATS
// =============================================================================

func (m *Memory) ReferralStats(_ context.Context, accountID int64) (*ledger.ReferralStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referralStatsLocked(accountID)
}

func (m *Memory) referralStatsLocked(accountID int64) (*ledger.ReferralStats, error) {
	s, ok := m.stats[accountID]
	if !ok {
		return &ledger.ReferralStats{AccountID: accountID}, nil
	}
	out := s
	return &out, nil
}

func (m *Memory) BumpReferralCount(_ context.Context, accountID int64, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpReferralCountLocked(accountID, level)
}

func (m *Memory) bumpReferralCountLocked(accountID int64, level int) error {
	s := m.stats[accountID]
	s.AccountID = accountID
	switch level {
	case 1:
		s.Level1++
	case 2:
		s.Level2++
	case 3:
		s.Level3++
	default:
		return &ledger.ValidationError{Field: "level", Message: "must be 1, 2 or 3"}
	}
	m.stats[accountID] = s
	return nil
}

// =============================================================================
// ADMIN AUDIT LOG
// =============================================================================

func (m *Memory) AppendAdminLog(_ context.Context, e ledger.AdminLogEntry) (*ledger.AdminLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextLogID
	m.nextLogID++
	m.adminLog = append(m.adminLog, e)
	out := e
	return &out, nil
}

func (m *Memory) RecentAdminLog(_ context.Context, limit int) ([]ledger.AdminLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.AdminLogEntry
	for i := len(m.adminLog) - 1; i >= 0; i-- {
		out = append(out, m.adminLog[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

// Reset clears all data. Dev and test use only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[int64]ledger.Account)
	m.byCode = make(map[string]int64)
	m.entries = nil
	m.stats = make(map[int64]ledger.ReferralStats)
	m.adminLog = nil
	m.nextAccountID = 1
	m.nextEntryID = 1
	m.nextLogID = 1
	return nil
}

// WithTx executes fn against a view of the store under one lock.
// On error the pre-transaction state is restored.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts      map[int64]ledger.Account
	byCode        map[string]int64
	entries       []ledger.Entry
	stats         map[int64]ledger.ReferralStats
	nextAccountID int64
	nextEntryID   int64
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[int64]ledger.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	byCode := make(map[string]int64, len(m.byCode))
	for k, v := range m.byCode {
		byCode[k] = v
	}
	stats := make(map[int64]ledger.ReferralStats, len(m.stats))
	for k, v := range m.stats {
		stats[k] = v
	}
	return memorySnapshot{
		accounts:      accounts,
		byCode:        byCode,
		entries:       append([]ledger.Entry(nil), m.entries...),
		stats:         stats,
		nextAccountID: m.nextAccountID,
		nextEntryID:   m.nextEntryID,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.byCode = s.byCode
	m.entries = s.entries
	m.stats = s.stats
	m.nextAccountID = s.nextAccountID
	m.nextEntryID = s.nextEntryID
}

// txView routes calls to the locked helpers; the WithTx lock is already held.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateAccount(_ context.Context, acct ledger.Account) (*ledger.Account, error) {
	return tv.parent.createAccountLocked(acct)
}

func (tv *txView) Account(_ context.Context, id int64) (*ledger.Account, error) {
	return tv.parent.accountLocked(id)
}

func (tv *txView) AccountByCode(_ context.Context, code string) (*ledger.Account, error) {
	return tv.parent.accountByCodeLocked(code)
}

func (tv *txView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked()
}

func (tv *txView) SetEnabled(_ context.Context, id int64, enabled bool) error {
	return tv.parent.setEnabledLocked(id, enabled)
}

func (tv *txView) Append(_ context.Context, e ledger.Entry) (*ledger.Entry, error) {
	return tv.parent.appendLocked(e)
}

func (tv *txView) ApplyDelta(_ context.Context, accountID, delta int64) (int64, error) {
	return tv.parent.applyDeltaLocked(accountID, delta)
}

func (tv *txView) EntriesFor(_ context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	return tv.parent.entriesForLocked(accountID, limit)
}

func (tv *txView) Entry(_ context.Context, id int64) (*ledger.Entry, error) {
	return tv.parent.entryLocked(id)
}

func (tv *txView) MarkProcessed(_ context.Context, entryID int64) error {
	return tv.parent.markProcessedLocked(entryID)
}

func (tv *txView) LedgerSum(_ context.Context, accountID int64) (int64, error) {
	return tv.parent.ledgerSumLocked(accountID)
}

func (tv *txView) ReferralStats(_ context.Context, accountID int64) (*ledger.ReferralStats, error) {
	return tv.parent.referralStatsLocked(accountID)
}

func (tv *txView) BumpReferralCount(_ context.Context, accountID int64, level int) error {
	return tv.parent.bumpReferralCountLocked(accountID, level)
}
