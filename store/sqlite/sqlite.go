/*
Package sqlite provides a SQLite-backed implementation of the billing storage interfaces.

PURPOSE:
  Implements every persistence interface the billing engine consumes
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.TxStore:         Obligations, display sequences, payment ledger
  billing.ConfigProvider:  Franchise rate configuration and units
  billing.RevenueProvider: Gross revenue aggregation
  billing.RunStore:        Sweep audit log

KEY TABLES:
  obligations:       One row per royalty/revenue/transaction obligation
  number_sequences:  Per (prefix, year, month) display counters
  ledger_entries:    Append-only payments and refunds
  franchises, units: Read-only rate configuration
  revenue_entries:   Gross sales reported by units
  sweep_runs:        One row per monthly sweep

INDEXES:
  - idx_obligations_unique_period: At most one non-reversal obligation per
    (kind, franchise, unit, period_start). Makes the sweep race-free.
  - obligations.number UNIQUE: Display numbers never collide.
  - ledger_entries.idempotency_key UNIQUE: A payment or refund is recorded once.

MONEY:
  Decimal columns are TEXT holding the exact decimal string. They are never
  summed in SQL; aggregation happens in Go with shopspring/decimal.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; code inside a transaction must use the Store it is
  handed, never the parent.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.TxStore         = (*Store)(nil)
	_ billing.ConfigProvider  = (*Store)(nil)
	_ billing.RevenueProvider = (*Store)(nil)
	_ billing.RunStore        = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Obligations
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		franchise_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		party_id TEXT NOT NULL,
		party_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		quarter INTEGER NOT NULL DEFAULT 0,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		due_date TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		royalty_pct TEXT NOT NULL,
		marketing_pct TEXT NOT NULL,
		technology_fee TEXT NOT NULL,
		royalty_amount TEXT NOT NULL,
		marketing_amount TEXT NOT NULL,
		adjustment TEXT NOT NULL,
		adjustment_notes TEXT NOT NULL DEFAULT '',
		late_fee TEXT NOT NULL,
		total TEXT NOT NULL,
		late_fee_rate TEXT NOT NULL,
		grace_period_days INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		paid_at TEXT,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_reference TEXT NOT NULL DEFAULT '',
		refunded_at TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		recurrence_type TEXT,
		recurrence_interval INTEGER,
		recurrence_end TEXT,
		parent_id TEXT,
		is_reversal INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		attachments_json TEXT,
		auto_generated INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	-- CRITICAL: one obligation per kind, scope and period.
	-- Reversals share their original's period and are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_obligations_unique_period
		ON obligations(kind, franchise_id, unit_id, period_start)
		WHERE is_reversal = 0;

	CREATE INDEX IF NOT EXISTS idx_obligations_franchise
		ON obligations(franchise_id, unit_id, period_start);
	CREATE INDEX IF NOT EXISTS idx_obligations_status_due
		ON obligations(status, due_date);
	CREATE INDEX IF NOT EXISTS idx_obligations_parent
		ON obligations(parent_id) WHERE parent_id IS NOT NULL;

	-- Display number counters
	CREATE TABLE IF NOT EXISTS number_sequences (
		prefix TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		last_value INTEGER NOT NULL,
		PRIMARY KEY (prefix, year, month)
	);

	-- Payment ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		franchise_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_obligation
		ON ledger_entries(obligation_id, created_at);

	-- Franchise configuration
	CREATE TABLE IF NOT EXISTS franchises (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		franchisee_id TEXT NOT NULL DEFAULT '',
		royalty_pct TEXT,
		marketing_pct TEXT,
		technology_fee TEXT,
		frequency TEXT NOT NULL DEFAULT 'monthly',
		late_fee_rate TEXT,
		grace_period_days INTEGER,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		franchise_id TEXT NOT NULL REFERENCES franchises(id),
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_units_franchise
		ON units(franchise_id);

	-- Gross revenue reported per scope and day
	CREATE TABLE IF NOT EXISTS revenue_entries (
		id TEXT PRIMARY KEY,
		franchise_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		amount TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revenue_scope_day
		ON revenue_entries(franchise_id, unit_id, day);

	-- Sweep runs (for scheduled billing)
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL,
		created INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_runs_period
		ON sweep_runs(year, month, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertObligation(ctx context.Context, o billing.Obligation) error {
	return insertObligation(ctx, ts.tx, o)
}

func (ts *txStore) UpdateObligation(ctx context.Context, o billing.Obligation) error {
	return updateObligation(ctx, ts.tx, o)
}

func (ts *txStore) GetObligation(ctx context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	return getObligation(ctx, ts.tx, id)
}

func (ts *txStore) FindByScopePeriod(ctx context.Context, kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	return findByScopePeriod(ctx, ts.tx, kind, scope, periodStart)
}

func (ts *txStore) ListObligations(ctx context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	return listObligations(ctx, ts.tx, filter)
}

func (ts *txStore) NextSequence(ctx context.Context, prefix string, year int, month time.Month) (int, error) {
	return nextSequence(ctx, ts.tx, prefix, year, month)
}

func (ts *txStore) AppendLedgerEntry(ctx context.Context, e billing.LedgerEntry) error {
	return appendLedgerEntry(ctx, ts.tx, e)
}

func (ts *txStore) LedgerEntries(ctx context.Context, id billing.ObligationID) ([]billing.LedgerEntry, error) {
	return ledgerEntries(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "obligations", "number_sequences", "revenue_entries", "units", "franchises", "sweep_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

func formatDate(t time.Time) string { return billing.DateOf(t).Format(dateLayout) }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// columnParser decodes TEXT columns and keeps the first failure, so a
// corrupt row surfaces as an error instead of zero values.
type columnParser struct {
	err error
}

func (p *columnParser) fail(column, value string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "corrupt column %s: %q", column, value)
	}
}

func (p *columnParser) decimal(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(column, s, err)
	}
	return d
}

func (p *columnParser) date(column, s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		p.fail(column, s, err)
	}
	return t
}

func (p *columnParser) time(column, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		p.fail(column, s, err)
	}
	return t
}

func (p *columnParser) timePtr(column string, ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := p.time(column, ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
