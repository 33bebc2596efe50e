/*
recurrence.go - Recurrence generator

PURPOSE:
  Produces the next period's obligation from a recurring one. Every
  generated child points at the chain root, so the full series of any
  member is one lookup on ParentID.

RULES:
  1. reference date = PeriodStart; next = NextOccurrence(ref, type, interval)
  2. next after Recurrence.EndDate: the chain is over, nothing is created
  3. a record already present for the scope+period is returned, not duplicated
  4. rates, scope and recurrence policy are copied; adjustments and late
     fees are not

EXAMPLE:
  ROY-202401-0001 (root, Jan) ──▶ ROY-202402-0001 (parent=root)
                              ──▶ ROY-202403-0001 (parent=root)
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NextInChain builds the next occurrence of o without persisting it.
// Returns nil when the recurrence end date has been passed.
func (o *Obligation) NextInChain(now time.Time) (*Obligation, error) {
	if !o.IsRecurring || o.Recurrence == nil {
		return nil, invalid("is_recurring", "obligation %s is not recurring", o.ID)
	}
	if o.IsReversal {
		return nil, invalid("is_reversal", "a reversal cannot seed a recurrence")
	}
	if o.Status == StatusCancelled {
		return nil, invalid("status", "a cancelled obligation cannot seed a recurrence")
	}
	if err := validateRecurrence(*o.Recurrence); err != nil {
		return nil, err
	}

	r := *o.Recurrence
	next := NextOccurrence(o.PeriodStart, r.Type, r.Interval)
	if r.EndDate != nil && DateOf(next).After(DateOf(*r.EndDate)) {
		return nil, nil
	}

	root := o.RootID()
	child := &Obligation{
		ID:              NewObligationID(),
		Kind:            o.Kind,
		FranchiseID:     o.FranchiseID,
		UnitID:          o.UnitID,
		PartyID:         o.PartyID,
		PartyType:       o.PartyType,
		GrossAmount:     o.GrossAmount,
		RoyaltyPct:      o.RoyaltyPct,
		MarketingPct:    o.MarketingPct,
		TechnologyFee:   o.TechnologyFee,
		Adjustment:      decimal.Zero,
		LateFee:         decimal.Zero,
		LateFeeRate:     o.LateFeeRate,
		GracePeriodDays: o.GracePeriodDays,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		IsRecurring:     true,
		Recurrence:      &r,
		ParentID:        &root,
		AutoGenerated:   true,
		CreatedBy:       "system",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if r.EndDate != nil {
		end := *r.EndDate
		child.Recurrence.EndDate = &end
	}
	child.setPeriod(RecurringPeriod(next, r.Type, r.Interval), o.Frequency, o.GracePeriodDays)
	child.applyFees()
	return child, nil
}

// GenerateNext creates the next occurrence of a recurring obligation.
//
// Returns (nil, false, nil) when the recurrence has terminated. Returns the
// existing record with created=false when the next period is already billed,
// so repeated calls never produce duplicates.
func (s *Service) GenerateNext(ctx context.Context, id ObligationID) (*Obligation, bool, error) {
	src, err := s.Store.GetObligation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	child, err := src.NextInChain(s.now())
	if err != nil || child == nil {
		return nil, false, err
	}
	return s.createIfAbsent(ctx, child)
}
