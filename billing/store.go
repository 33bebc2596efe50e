/*
store.go - Persistence interface for obligations and the payment ledger

PURPOSE:
  Defines the interface between the billing engine and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:     Obligation rows, display sequences, ledger entries
  TxStore:   Store plus WithTx for atomic read-validate-write
  RunStore:  Optional audit log of billing sweeps

UNIQUENESS:
  At most one non-reversal obligation per (kind, franchise, unit,
  period_start). InsertObligation returns a DuplicateObligationError on
  conflict. A database-level unique index makes this race-free.

MUTUAL EXCLUSION:
  The obligation row is the unit of mutual exclusion. UpdateObligation
  compares Version and fails with ErrConcurrentModification when the row
  changed underneath the caller.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Uses TxStore for every mutation
  - ledger.go: LedgerEntry type
*/
package billing

import (
	"context"
	"time"
)

// Store handles persistence of obligations and ledger entries.
type Store interface {
	// InsertObligation persists a new obligation with Version 1.
	InsertObligation(ctx context.Context, o Obligation) error

	// UpdateObligation persists o if the stored version equals o.Version,
	// then increments the stored version.
	UpdateObligation(ctx context.Context, o Obligation) error

	// GetObligation returns ErrNotFound if id doesn't exist.
	GetObligation(ctx context.Context, id ObligationID) (*Obligation, error)

	// FindByScopePeriod returns the non-reversal obligation for the key, or nil.
	FindByScopePeriod(ctx context.Context, kind Kind, scope Scope, periodStart time.Time) (*Obligation, error)

	// ListObligations returns obligations matching filter ordered by period, number.
	ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, error)

	// NextSequence atomically allocates the next display sequence for
	// (prefix, year, month), starting at 1.
	NextSequence(ctx context.Context, prefix string, year int, month time.Month) (int, error)

	// AppendLedgerEntry persists e. Returns ErrDuplicateIdempotencyKey if the key exists.
	AppendLedgerEntry(ctx context.Context, e LedgerEntry) error

	// LedgerEntries returns entries for an obligation in creation order.
	LedgerEntries(ctx context.Context, id ObligationID) ([]LedgerEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTER
// =============================================================================

// ObligationFilter selects obligations. Zero fields don't filter.
type ObligationFilter struct {
	FranchiseID FranchiseID
	UnitID      *UnitID
	Kind        Kind
	Status      Status // overdue/pending are resolved against AsOf
	RootID      ObligationID
	Year        int
	Month       time.Month
	AsOf        time.Time
	Limit       int
}

// Matches reports whether o satisfies the filter. Stores that can't push the
// filter down to a query use it directly; the SQL store mirrors it exactly.
func (f ObligationFilter) Matches(o *Obligation) bool {
	if f.FranchiseID != "" && o.FranchiseID != f.FranchiseID {
		return false
	}
	if f.UnitID != nil && o.UnitID != *f.UnitID {
		return false
	}
	if f.Kind != "" && o.Kind != f.Kind {
		return false
	}
	if f.Year != 0 && o.Year != f.Year {
		return false
	}
	if f.Month != 0 && o.Month != f.Month {
		return false
	}
	if f.RootID != "" {
		inChain := o.ID == f.RootID || (o.ParentID != nil && *o.ParentID == f.RootID && !o.IsReversal)
		if !inChain {
			return false
		}
	}
	if f.Status != "" && o.EffectiveStatus(f.asOf()) != f.Status {
		return false
	}
	return true
}

func (f ObligationFilter) asOf() time.Time {
	if f.AsOf.IsZero() {
		return time.Now()
	}
	return f.AsOf
}

// AsOfDate returns the filter's reference day. Both stores compare due dates
// against this day so overdue is consistent everywhere.
func (f ObligationFilter) AsOfDate() time.Time { return DateOf(f.asOf()) }

// =============================================================================
// SWEEP RUN LOG
// =============================================================================

// SweepRun records one execution of the monthly sweep.
type SweepRun struct {
	ID          string
	Year        int
	Month       time.Month
	Status      string // running, completed, failed
	Created     int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists sweep runs.
type RunStore interface {
	SaveSweepRun(ctx context.Context, run SweepRun) error
	// IsSweepComplete reports whether the latest completed run for the month
	// billed every scope. A run with failed scopes leaves the month open.
	IsSweepComplete(ctx context.Context, year int, month time.Month) (bool, error)
}
