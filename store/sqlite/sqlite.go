/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.AuditLog using SQLite. The same
  SQL shapes apply to PostgreSQL - only dialect details differ.

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on ledger_entries, ever.
  - The only UPDATE on ledger_entries flips a cash redemption from
    PENDING to PROCESSED, guarded in the WHERE clause so it applies at
    most once.

ATOMIC BALANCE UPDATES:
  ApplyDelta is a single conditional UPDATE:

    UPDATE accounts SET balance = balance + ?
    WHERE id = ? AND balance + ? >= 0

  The sufficiency check and the write are one statement, so two
  concurrent debits can never both pass against a stale read. This is
  the lost-update guard the whole engine leans on.

KEY TABLES:
  accounts:        Current balance projection + referral code graph
  ledger_entries:  Immutable ledger of all balance changes
  referral_stats:  Incrementally maintained level-1/2/3 counts
  admin_log:       Append-only admin action trail

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block
  and crash recovery is cheaper.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, notifier)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian/loyalty-engine/ledger"
)

// Store implements ledger.TxStore and ledger.AuditLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)
var _ ledger.AuditLog = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (current balance projection)
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		referral_code TEXT UNIQUE,
		referred_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_referred_by
		ON accounts(referred_by) WHERE referred_by IS NOT NULL;

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		delta INTEGER NOT NULL CHECK (delta != 0),
		category TEXT NOT NULL,
		description TEXT NOT NULL CHECK (description != ''),
		reference TEXT,
		status TEXT,
		created_at TEXT NOT NULL
	);

	-- Per-account history, newest first (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON ledger_entries(account_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON ledger_entries(status) WHERE status IS NOT NULL;

	-- Referral stats (incrementally maintained aggregate)
	CREATE TABLE IF NOT EXISTS referral_stats (
		account_id INTEGER PRIMARY KEY REFERENCES accounts(id),
		level1 INTEGER NOT NULL DEFAULT 0,
		level2 INTEGER NOT NULL DEFAULT 0,
		level3 INTEGER NOT NULL DEFAULT 0
	);

	-- Admin audit trail (append-only)
	CREATE TABLE IF NOT EXISTS admin_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		admin_id TEXT NOT NULL,
		target_account_id INTEGER,
		action TEXT NOT NULL,
		details TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_admin_log_target
		ON admin_log(target_account_id) WHERE target_account_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same statement
// helpers serve direct calls and transactional views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(ctx, s.db, acct)
}

func (s *Store) createAccount(ctx context.Context, db dbtx, acct ledger.Account) (*ledger.Account, error) {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO accounts (name, balance, enabled, referral_code, referred_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		acct.Name,
		acct.Balance,
		acct.Enabled,
		nullString(acct.ReferralCode),
		nullString(acct.ReferredBy),
		acct.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, &ledger.ValidationError{Field: "referral_code", Message: "already in use"}
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	acct.ID = id
	return &acct, nil
}

const accountColumns = `id, name, balance, enabled, referral_code, referred_by, created_at`

func (s *Store) Account(ctx context.Context, id int64) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account(ctx, s.db, id)
}

func (s *Store) account(ctx context.Context, db dbtx, id int64) (*ledger.Account, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) AccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByCode(ctx, s.db, code)
}

func (s *Store) accountByCode(ctx context.Context, db dbtx, code string) (*ledger.Account, error) {
	if code == "" {
		return nil, nil
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE referral_code = ?`, code)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var (
		acct         ledger.Account
		referralCode sql.NullString
		referredBy   sql.NullString
		createdAt    string
	)
	err := row.Scan(&acct.ID, &acct.Name, &acct.Balance, &acct.Enabled,
		&referralCode, &referredBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	acct.ReferralCode = referralCode.String
	acct.ReferredBy = referredBy.String
	acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAccounts(ctx, s.db)
}

func (s *Store) listAccounts(ctx context.Context, db dbtx) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			acct         ledger.Account
			referralCode sql.NullString
			referredBy   sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&acct.ID, &acct.Name, &acct.Balance, &acct.Enabled,
			&referralCode, &referredBy, &createdAt); err != nil {
			return nil, err
		}
		acct.ReferralCode = referralCode.String
		acct.ReferredBy = referredBy.String
		acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setEnabled(ctx, s.db, id, enabled)
}

func (s *Store) setEnabled(ctx context.Context, db dbtx, id int64, enabled bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

const entryColumns = `id, account_id, delta, category, description, reference, status, created_at`

func (s *Store) Append(ctx context.Context, e ledger.Entry) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(ctx, s.db, e)
}

func (s *Store) append(ctx context.Context, db dbtx, e ledger.Entry) (*ledger.Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (account_id, delta, category, description, reference, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AccountID,
		e.Delta,
		string(e.Category),
		e.Description,
		nullString(e.Reference),
		nullString(string(e.Status)),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = id
	return &e, nil
}

// ApplyDelta is the single atomic balance mutation. The precondition
// lives in the WHERE clause, so a stale read can never slip a debit
// past the sufficiency check.
func (s *Store) ApplyDelta(ctx context.Context, accountID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDelta(ctx, s.db, accountID, delta)
}

func (s *Store) applyDelta(ctx context.Context, db dbtx, accountID, delta int64) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + ?
		WHERE id = ? AND balance + ? >= 0`,
		delta, accountID, delta,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to apply delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Either the account is missing or the debit would go negative.
		var balance int64
		err := db.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, ledger.ErrAccountNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Balance:   balance,
			Requested: -delta,
		}
	}

	var newBalance int64
	if err := db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&newBalance); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *Store) EntriesFor(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesFor(ctx, s.db, accountID, limit)
}

func (s *Store) entriesFor(ctx context.Context, db dbtx, accountID int64, limit int) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY id DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return queryEntries(ctx, db, query, args...)
}

func (s *Store) Entry(ctx context.Context, id int64) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry(ctx, s.db, id)
}

func (s *Store) entry(ctx context.Context, db dbtx, id int64) (*ledger.Entry, error) {
	entries, err := queryEntries(ctx, db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// MarkProcessed flips PENDING -> PROCESSED. The status guard in the
// WHERE clause makes a second call a no-op rather than a double effect.
func (s *Store) MarkProcessed(ctx context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markProcessed(ctx, s.db, entryID)
}

func (s *Store) markProcessed(ctx context.Context, db dbtx, entryID int64) error {
	e, err := s.entry(ctx, db, entryID)
	if err != nil {
		return err
	}
	if e == nil {
		return ledger.ErrEntryNotFound
	}
	if e.Category != ledger.CategoryCashRedemption {
		return &ledger.ValidationError{Field: "entry", Message: "not a cash redemption"}
	}
	_, err = db.ExecContext(ctx, `
		UPDATE ledger_entries SET status = ?
		WHERE id = ? AND status = ?`,
		string(ledger.StatusProcessed), entryID, string(ledger.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry processed: %w", err)
	}
	return nil
}

func (s *Store) LedgerSum(ctx context.Context, accountID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerSum(ctx, s.db, accountID)
}

func (s *Store) ledgerSum(ctx context.Context, db dbtx, accountID int64) (int64, error) {
	var sum int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = ?`,
		accountID).Scan(&sum)
	return sum, err
}

func queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			category  string
			reference sql.NullString
			status    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &category,
			&e.Description, &reference, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Category = ledger.Category(category)
		e.Reference = reference.String
		e.Status = ledger.Status(status.String)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// REFERRAL STATS
// =============================================================================

func (s *Store) ReferralStats(ctx context.Context, accountID int64) (*ledger.ReferralStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referralStats(ctx, s.db, accountID)
}

func (s *Store) referralStats(ctx context.Context, db dbtx, accountID int64) (*ledger.ReferralStats, error) {
	stats := ledger.ReferralStats{AccountID: accountID}
	err := db.QueryRowContext(ctx,
		`SELECT level1, level2, level3 FROM referral_stats WHERE account_id = ?`,
		accountID).Scan(&stats.Level1, &stats.Level2, &stats.Level3)
	if err == sql.ErrNoRows {
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query referral stats: %w", err)
	}
	return &stats, nil
}

func (s *Store) BumpReferralCount(ctx context.Context, accountID int64, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumpReferralCount(ctx, s.db, accountID, level)
}

func (s *Store) bumpReferralCount(ctx context.Context, db dbtx, accountID int64, level int) error {
	if level < 1 || level > 3 {
		return &ledger.ValidationError{Field: "level", Message: "must be 1, 2 or 3"}
	}
	column := fmt.Sprintf("level%d", level)
	_, err := db.ExecContext(ctx, `
		INSERT INTO referral_stats (account_id, `+column+`)
		VALUES (?, 1)
		ON CONFLICT(account_id) DO UPDATE SET `+column+` = `+column+` + 1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to bump referral count: %w", err)
	}
	return nil
}

// =============================================================================
// ADMIN AUDIT LOG
// =============================================================================

func (s *Store) AppendAdminLog(ctx context.Context, e ledger.AdminLogEntry) (*ledger.AdminLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var target any
	if e.TargetAccountID != nil {
		target = *e.TargetAccountID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_log (admin_id, target_account_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.AdminID, target, string(e.Action), e.Details,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append admin log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = id
	return &e, nil
}

func (s *Store) RecentAdminLog(ctx context.Context, limit int) ([]ledger.AdminLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, admin_id, target_account_id, action, details, created_at
		FROM admin_log ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AdminLogEntry
	for rows.Next() {
		var (
			e         ledger.AdminLogEntry
			target    sql.NullInt64
			action    string
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AdminID, &target, &action, &details, &createdAt); err != nil {
			return nil, err
		}
		if target.Valid {
			t := target.Int64
			e.TargetAccountID = &t
		}
		e.Action = ledger.AdminAction(action)
		e.Details = details.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. The store-wide lock
// is held for the duration, and the transactional view calls the
// unlocked statement helpers directly.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateAccount(ctx context.Context, acct ledger.Account) (*ledger.Account, error) {
	return ts.parent.createAccount(ctx, ts.tx, acct)
}

func (ts *txStore) Account(ctx context.Context, id int64) (*ledger.Account, error) {
	return ts.parent.account(ctx, ts.tx, id)
}

func (ts *txStore) AccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	return ts.parent.accountByCode(ctx, ts.tx, code)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return ts.parent.listAccounts(ctx, ts.tx)
}

func (ts *txStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return ts.parent.setEnabled(ctx, ts.tx, id, enabled)
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) (*ledger.Entry, error) {
	return ts.parent.append(ctx, ts.tx, e)
}

func (ts *txStore) ApplyDelta(ctx context.Context, accountID, delta int64) (int64, error) {
	return ts.parent.applyDelta(ctx, ts.tx, accountID, delta)
}

func (ts *txStore) EntriesFor(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	return ts.parent.entriesFor(ctx, ts.tx, accountID, limit)
}

func (ts *txStore) Entry(ctx context.Context, id int64) (*ledger.Entry, error) {
	return ts.parent.entry(ctx, ts.tx, id)
}

func (ts *txStore) MarkProcessed(ctx context.Context, entryID int64) error {
	return ts.parent.markProcessed(ctx, ts.tx, entryID)
}

func (ts *txStore) LedgerSum(ctx context.Context, accountID int64) (int64, error) {
	return ts.parent.ledgerSum(ctx, ts.tx, accountID)
}

func (ts *txStore) ReferralStats(ctx context.Context, accountID int64) (*ledger.ReferralStats, error) {
	return ts.parent.referralStats(ctx, ts.tx, accountID)
}

func (ts *txStore) BumpReferralCount(ctx context.Context, accountID int64, level int) error {
	return ts.parent.bumpReferralCount(ctx, ts.tx, accountID, level)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "referral_stats", "admin_log", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
