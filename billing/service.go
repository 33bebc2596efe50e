/*
service.go - Transactional orchestration of the obligation lifecycle

PURPOSE:
  Service is the entry point the HTTP layer and the scheduler call. Each
  operation is one store transaction:

    read current row ──▶ validate transition ──▶ write new row (+ ledger)

  so a failed transition or a failed write leaves the record unchanged.
  Events are published after commit.

NUMBERING:
  Display numbers are allocated with Store.NextSequence inside the insert
  transaction. The number column is unique, so a race surfaces as an error
  instead of a silent duplicate.

SEE ALSO:
  - lifecycle.go: Pure transitions
  - recurrence.go: GenerateNext
  - sweep.go: Monthly batch generation
*/
package billing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service runs obligation operations against a transactional store.
type Service struct {
	Store  TxStore
	Events EventSink
	Log    *zap.SugaredLogger
	Now    func() time.Time
}

// NewService creates a service with a no-op event sink and logger.
func NewService(store TxStore) *Service {
	return &Service{
		Store:  store,
		Events: NopSink{},
		Log:    zap.NewNop().Sugar(),
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) publish(ctx context.Context, typ EventType, o *Obligation, at time.Time) {
	if s.Events == nil || o == nil {
		return
	}
	s.Events.Publish(ctx, Event{Type: typ, Obligation: o.Clone(), At: at})
}

// =============================================================================
// CREATE / READ
// =============================================================================

// Create validates input and persists a manually entered obligation.
// A second obligation for the same kind, scope and period fails with
// DuplicateObligationError.
func (s *Service) Create(ctx context.Context, in NewObligationInput) (*Obligation, error) {
	now := s.now()
	o, err := NewObligation(in, now)
	if err != nil {
		return nil, err
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		return insertNew(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventCreated, o, now)
	return o, nil
}

// createIfAbsent inserts o unless the scope+period already has an obligation,
// in which case the existing record is returned with created=false.
func (s *Service) createIfAbsent(ctx context.Context, o *Obligation) (*Obligation, bool, error) {
	var existing *Obligation
	err := s.Store.WithTx(ctx, func(tx Store) error {
		found, err := tx.FindByScopePeriod(ctx, o.Kind, o.Scope(), o.PeriodStart)
		if err != nil {
			return err
		}
		if found != nil {
			existing = found
			return nil
		}
		return insertNew(ctx, tx, o)
	})
	if errors.Is(err, ErrDuplicateObligation) {
		// Lost a race with a concurrent writer; the unique index caught it.
		found, findErr := s.Store.FindByScopePeriod(ctx, o.Kind, o.Scope(), o.PeriodStart)
		if findErr != nil {
			return nil, false, findErr
		}
		return found, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	s.publish(ctx, EventCreated, o, o.CreatedAt)
	return o, true, nil
}

func insertNew(ctx context.Context, tx Store, o *Obligation) error {
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	seq, err := tx.NextSequence(ctx, o.Kind.NumberPrefix(), o.Year, o.Month)
	if err != nil {
		return errors.Wrap(err, "allocate obligation number")
	}
	o.Number = FormatNumber(o.Kind.NumberPrefix(), o.Year, o.Month, seq)
	if err := tx.InsertObligation(ctx, *o); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

// Get returns an obligation by ID.
func (s *Service) Get(ctx context.Context, id ObligationID) (*Obligation, error) {
	return s.Store.GetObligation(ctx, id)
}

// List returns obligations matching filter, resolving overdue against now
// when the filter has no AsOf.
func (s *Service) List(ctx context.Context, filter ObligationFilter) ([]Obligation, error) {
	if filter.AsOf.IsZero() {
		filter.AsOf = s.now()
	}
	return s.Store.ListObligations(ctx, filter)
}

// Series returns the recurrence chain containing id, root first.
func (s *Service) Series(ctx context.Context, id ObligationID) ([]Obligation, error) {
	o, err := s.Store.GetObligation(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Store.ListObligations(ctx, ObligationFilter{RootID: o.RootID(), AsOf: s.now()})
}

// Ledger returns the payment ledger of an obligation.
func (s *Service) Ledger(ctx context.Context, id ObligationID) ([]LedgerEntry, error) {
	if _, err := s.Store.GetObligation(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.LedgerEntries(ctx, id)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// mutate loads the row, applies op and writes it back in one transaction.
func (s *Service) mutate(ctx context.Context, id ObligationID, op func(tx Store, o *Obligation, now time.Time) error) (*Obligation, error) {
	now := s.now()
	var result *Obligation
	err := s.Store.WithTx(ctx, func(tx Store) error {
		o, err := tx.GetObligation(ctx, id)
		if err != nil {
			return err
		}
		if err := op(tx, o, now); err != nil {
			return err
		}
		if err := o.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.UpdateObligation(ctx, *o); err != nil {
			return err
		}
		o.Version++
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Submit moves a draft to pending.
func (s *Service) Submit(ctx context.Context, id ObligationID) (*Obligation, error) {
	return s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		return o.Submit(now)
	})
}

// MarkPaid settles an obligation and records the payment in the ledger.
func (s *Service) MarkPaid(ctx context.Context, id ObligationID, method, reference string) (*Obligation, error) {
	o, err := s.mutate(ctx, id, func(tx Store, o *Obligation, now time.Time) error {
		if err := o.MarkPaid(now, method, reference); err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, paymentEntry(o, now))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPaid, o, o.UpdatedAt)
	return o, nil
}

// CalculateLateFee applies the late fee once to an overdue obligation.
func (s *Service) CalculateLateFee(ctx context.Context, id ObligationID) (*Obligation, bool, error) {
	var applied bool
	o, err := s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		var err error
		applied, err = o.CalculateLateFee(now)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.publish(ctx, EventOverdue, o, o.UpdatedAt)
	}
	return o, applied, nil
}

// AddAdjustment replaces the adjustment and recomputes the total.
func (s *Service) AddAdjustment(ctx context.Context, id ObligationID, amount decimal.Decimal, notes string) (*Obligation, error) {
	return s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		return o.AddAdjustment(now, amount, notes)
	})
}

// Dispute flags an obligation as disputed.
func (s *Service) Dispute(ctx context.Context, id ObligationID, reason string) (*Obligation, error) {
	o, err := s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		return o.Dispute(now, reason)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventDisputed, o, o.UpdatedAt)
	return o, nil
}

// ResolveDispute returns a disputed obligation to pending.
func (s *Service) ResolveDispute(ctx context.Context, id ObligationID, resolution string) (*Obligation, error) {
	return s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		return o.ResolveDispute(now, resolution)
	})
}

// Cancel voids an unpaid obligation.
func (s *Service) Cancel(ctx context.Context, id ObligationID, reason string) (*Obligation, error) {
	return s.mutate(ctx, id, func(_ Store, o *Obligation, now time.Time) error {
		return o.Cancel(now, reason)
	})
}

// Refund reverses a paid obligation with a compensating record and a
// negative ledger entry. It returns the updated original and the reversal.
func (s *Service) Refund(ctx context.Context, id ObligationID, reason string) (*Obligation, *Obligation, error) {
	var reversal *Obligation
	original, err := s.mutate(ctx, id, func(tx Store, o *Obligation, now time.Time) error {
		rev, err := o.Refund(now, reason)
		if err != nil {
			return err
		}
		if err := insertNew(ctx, tx, rev); err != nil {
			return err
		}
		reversal = rev
		return tx.AppendLedgerEntry(ctx, refundEntry(o, rev, now))
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, EventRefunded, original, original.UpdatedAt)
	s.publish(ctx, EventCreated, reversal, reversal.CreatedAt)
	return original, reversal, nil
}

// ApplyLateFees applies the late fee to every overdue obligation that doesn't
// carry one yet. One failing record doesn't stop the rest.
func (s *Service) ApplyLateFees(ctx context.Context) (int, error) {
	overdue, err := s.List(ctx, ObligationFilter{Status: StatusOverdue})
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, o := range overdue {
		if !o.LateFee.IsZero() {
			continue
		}
		_, ok, err := s.CalculateLateFee(ctx, o.ID)
		if err != nil {
			// Paid or disputed since the listing
			if IsClientError(err) {
				s.Log.Debugw("late fee skipped", "obligation_id", o.ID, "number", o.Number, "error", err)
			} else {
				s.Log.Warnw("late fee failed", "obligation_id", o.ID, "number", o.Number, "error", err)
			}
			continue
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}
