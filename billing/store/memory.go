// Package store provides in-memory billing store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	obligations map[billing.ObligationID]billing.Obligation
	byKey       map[uniqueKey]billing.ObligationID
	numbers     map[string]billing.ObligationID
	sequences   map[string]int
	ledger      []billing.LedgerEntry
	idempotency map[string]bool
	runs        map[string]billing.SweepRun
}

// uniqueKey mirrors the SQL partial unique index on non-reversal records.
type uniqueKey struct {
	Kind        billing.Kind
	FranchiseID billing.FranchiseID
	UnitID      billing.UnitID
	PeriodStart string
}

func keyOf(kind billing.Kind, scope billing.Scope, periodStart time.Time) uniqueKey {
	return uniqueKey{
		Kind:        kind,
		FranchiseID: scope.FranchiseID,
		UnitID:      scope.UnitID,
		PeriodStart: billing.DateOf(periodStart).Format("2006-01-02"),
	}
}

func NewMemory() *Memory {
	return &Memory{
		obligations: make(map[billing.ObligationID]billing.Obligation),
		byKey:       make(map[uniqueKey]billing.ObligationID),
		numbers:     make(map[string]billing.ObligationID),
		sequences:   make(map[string]int),
		idempotency: make(map[string]bool),
		runs:        make(map[string]billing.SweepRun),
	}
}

func (m *Memory) InsertObligation(_ context.Context, o billing.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(o)
}

func (m *Memory) insertLocked(o billing.Obligation) error {
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	if _, ok := m.obligations[o.ID]; ok {
		return errors.Newf("obligation %s already exists", o.ID)
	}
	k := keyOf(o.Kind, o.Scope(), o.PeriodStart)
	if !o.IsReversal {
		if existing, ok := m.byKey[k]; ok {
			return &billing.DuplicateObligationError{
				Kind:        o.Kind,
				Scope:       o.Scope(),
				PeriodStart: k.PeriodStart,
				ExistingID:  existing,
			}
		}
	}
	if o.Number != "" {
		if _, ok := m.numbers[o.Number]; ok {
			return errors.Newf("obligation number %s already allocated", o.Number)
		}
	}

	// All checks passed; nothing below can fail.
	if !o.IsReversal {
		m.byKey[k] = o.ID
	}
	if o.Number != "" {
		m.numbers[o.Number] = o.ID
	}
	o.Version = 1
	m.obligations[o.ID] = o.Clone()
	return nil
}

func (m *Memory) UpdateObligation(_ context.Context, o billing.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(o)
}

func (m *Memory) updateLocked(o billing.Obligation) error {
	stored, ok := m.obligations[o.ID]
	if !ok {
		return billing.ErrNotFound
	}
	if stored.Version != o.Version {
		return billing.ErrConcurrentModification
	}
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	o.Version++
	m.obligations[o.ID] = o.Clone()
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id billing.ObligationID) (*billing.Obligation, error) {
	o, ok := m.obligations[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	c := o.Clone()
	return &c, nil
}

func (m *Memory) FindByScopePeriod(_ context.Context, kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(kind, scope, periodStart)
}

func (m *Memory) findLocked(kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	id, ok := m.byKey[keyOf(kind, scope, periodStart)]
	if !ok {
		return nil, nil
	}
	return m.getLocked(id)
}

func (m *Memory) ListObligations(_ context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter billing.ObligationFilter) []billing.Obligation {
	out := lo.FilterMap(lo.Values(m.obligations), func(o billing.Obligation, _ int) (billing.Obligation, bool) {
		return o.Clone(), filter.Matches(&o)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].Number < out[j].Number
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (m *Memory) NextSequence(_ context.Context, prefix string, year int, month time.Month) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSequenceLocked(prefix, year, month), nil
}

func (m *Memory) nextSequenceLocked(prefix string, year int, month time.Month) int {
	k := fmt.Sprintf("%s-%04d%02d", prefix, year, int(month))
	m.sequences[k]++
	return m.sequences[k]
}

func (m *Memory) AppendLedgerEntry(_ context.Context, e billing.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e billing.LedgerEntry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return billing.ErrDuplicateIdempotencyKey
	}
	m.ledger = append(m.ledger, e)
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) LedgerEntries(_ context.Context, id billing.ObligationID) ([]billing.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerLocked(id), nil
}

func (m *Memory) ledgerLocked(id billing.ObligationID) []billing.LedgerEntry {
	return lo.Filter(m.ledger, func(e billing.LedgerEntry, _ int) bool {
		return e.ObligationID == id
	})
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (m *Memory) SaveSweepRun(_ context.Context, run billing.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) IsSweepComplete(_ context.Context, year int, month time.Month) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	completed := lo.Filter(lo.Values(m.runs), func(r billing.SweepRun, _ int) bool {
		return r.Year == year && r.Month == month && r.Status == "completed"
	})
	if len(completed) == 0 {
		return false, nil
	}
	latest := lo.MaxBy(completed, func(a, b billing.SweepRun) bool { return a.StartedAt.After(b.StartedAt) })
	return latest.Failed == 0, nil
}

// SweepRuns returns all recorded runs, most recent first.
func (m *Memory) SweepRuns() []billing.SweepRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := lo.Values(m.runs)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	obligations map[billing.ObligationID]billing.Obligation
	byKey       map[uniqueKey]billing.ObligationID
	numbers     map[string]billing.ObligationID
	sequences   map[string]int
	ledger      []billing.LedgerEntry
	idempotency map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	return memorySnapshot{
		obligations: lo.MapValues(tm.obligations, func(o billing.Obligation, _ billing.ObligationID) billing.Obligation { return o.Clone() }),
		byKey:       lo.Assign(tm.byKey),
		numbers:     lo.Assign(tm.numbers),
		sequences:   lo.Assign(tm.sequences),
		ledger:      append([]billing.LedgerEntry(nil), tm.ledger...),
		idempotency: lo.Assign(tm.idempotency),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.obligations = s.obligations
	tm.byKey = s.byKey
	tm.numbers = s.numbers
	tm.sequences = s.sequences
	tm.ledger = s.ledger
	tm.idempotency = s.idempotency
}

// txMemoryView runs under the parent's write lock and must not lock again.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertObligation(_ context.Context, o billing.Obligation) error {
	return tv.parent.insertLocked(o)
}

func (tv *txMemoryView) UpdateObligation(_ context.Context, o billing.Obligation) error {
	return tv.parent.updateLocked(o)
}

func (tv *txMemoryView) GetObligation(_ context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) FindByScopePeriod(_ context.Context, kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	return tv.parent.findLocked(kind, scope, periodStart)
}

func (tv *txMemoryView) ListObligations(_ context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) NextSequence(_ context.Context, prefix string, year int, month time.Month) (int, error) {
	return tv.parent.nextSequenceLocked(prefix, year, month), nil
}

func (tv *txMemoryView) AppendLedgerEntry(_ context.Context, e billing.LedgerEntry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) LedgerEntries(_ context.Context, id billing.ObligationID) ([]billing.LedgerEntry, error) {
	return tv.parent.ledgerLocked(id), nil
}
