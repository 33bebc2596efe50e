/*
lifecycle.go - Obligation state machine

STATES:
  draft ──submit──▶ pending ──markPaid──▶ paid ──refund──▶ (new reversal record)
                       │  ▲
                       │  └──resolve── disputed
                       ├──dispute──────▶ disputed
                       └──cancel───────▶ cancelled

  overdue is pending with a past due date. Every operation valid from
  pending is valid from overdue; calculateLateFee is valid ONLY from overdue.

RULES:
  - Each method validates its source state first and returns an
    InvalidStateTransitionError without touching the record on failure.
  - Methods are pure: persistence, ledger writes and events belong to Service.
  - Total is recomputed after every monetary change.

SEE ALSO:
  - service.go: Runs these transitions inside a store transaction
*/
package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OpSubmit         = "submit"
	OpMarkPaid       = "mark_paid"
	OpCalculateLate  = "calculate_late_fee"
	OpAddAdjustment  = "add_adjustment"
	OpDispute        = "dispute"
	OpResolveDispute = "resolve_dispute"
	OpCancel         = "cancel"
	OpRefund         = "refund"
)

func (o *Obligation) transitionError(op string, asOf time.Time, detail string) error {
	return &InvalidStateTransitionError{
		ObligationID: o.ID,
		Current:      o.EffectiveStatus(asOf),
		Operation:    op,
		Detail:       detail,
	}
}

// requireStatus fails unless the effective status is one of allowed.
func (o *Obligation) requireStatus(op string, now time.Time, allowed ...Status) error {
	current := o.EffectiveStatus(now)
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return o.transitionError(op, now, "")
}

func (o *Obligation) touch(now time.Time) { o.UpdatedAt = now }

// Submit moves a draft to pending.
func (o *Obligation) Submit(now time.Time) error {
	if err := o.requireStatus(OpSubmit, now, StatusDraft); err != nil {
		return err
	}
	o.Status = StatusPending
	o.touch(now)
	return nil
}

// MarkPaid settles a pending or overdue obligation.
func (o *Obligation) MarkPaid(now time.Time, method, reference string) error {
	if err := o.requireStatus(OpMarkPaid, now, StatusPending, StatusOverdue); err != nil {
		return err
	}
	if strings.TrimSpace(method) == "" {
		return invalid("payment_method", "is required")
	}
	paidAt := now
	o.Status = StatusPaid
	o.PaymentStatus = PaymentPaid
	o.PaidAt = &paidAt
	o.PaymentMethod = method
	o.PaymentReference = reference
	o.touch(now)
	return nil
}

// CalculateLateFee applies LateFeeRate to the current total. It is valid only
// for overdue records. A record that already carries a late fee is left
// unchanged and applied is false, so repeated calls never double-charge.
func (o *Obligation) CalculateLateFee(now time.Time) (applied bool, err error) {
	if err := o.requireStatus(OpCalculateLate, now, StatusOverdue); err != nil {
		return false, err
	}
	if !o.LateFee.IsZero() {
		return false, nil
	}
	fee := RoundCurrency(o.Total.Mul(o.LateFeeRate))
	if !fee.IsPositive() {
		return false, nil
	}
	o.LateFee = fee
	o.recompute()
	o.touch(now)
	return true, nil
}

// AddAdjustment replaces the current adjustment (discount if negative,
// surcharge if positive). Paid and cancelled records are immutable.
func (o *Obligation) AddAdjustment(now time.Time, amount decimal.Decimal, notes string) error {
	if err := o.requireStatus(OpAddAdjustment, now, StatusDraft, StatusPending, StatusOverdue, StatusDisputed); err != nil {
		return err
	}
	if strings.TrimSpace(notes) == "" {
		return invalid("notes", "an adjustment requires a justification")
	}
	o.Adjustment = RoundCurrency(amount)
	o.AdjustmentNotes = strings.TrimSpace(notes)
	o.recompute()
	o.touch(now)
	return nil
}

// Dispute flags a pending or overdue obligation and appends reason to notes.
func (o *Obligation) Dispute(now time.Time, reason string) error {
	if err := o.requireStatus(OpDispute, now, StatusPending, StatusOverdue); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return invalid("reason", "is required")
	}
	o.Status = StatusDisputed
	o.appendNote(now, "Disputed", reason)
	o.touch(now)
	return nil
}

// ResolveDispute returns a disputed obligation to pending.
func (o *Obligation) ResolveDispute(now time.Time, resolution string) error {
	if err := o.requireStatus(OpResolveDispute, now, StatusDisputed); err != nil {
		return err
	}
	o.Status = StatusPending
	o.appendNote(now, "Resolved", resolution)
	o.touch(now)
	return nil
}

// Cancel voids an unpaid obligation. Cancellation is a status, not a delete.
func (o *Obligation) Cancel(now time.Time, reason string) error {
	if err := o.requireStatus(OpCancel, now, StatusDraft, StatusPending, StatusOverdue, StatusDisputed); err != nil {
		return err
	}
	o.Status = StatusCancelled
	if strings.TrimSpace(reason) != "" {
		o.appendNote(now, "Cancelled", reason)
	}
	o.touch(now)
	return nil
}

// Refund flips the payment status of a paid obligation and returns the
// compensating record: every monetary field negated, already settled, linked
// back through ParentID. The original's amounts are never touched.
func (o *Obligation) Refund(now time.Time, reason string) (*Obligation, error) {
	if err := o.requireStatus(OpRefund, now, StatusPaid); err != nil {
		return nil, err
	}
	if o.PaymentStatus == PaymentRefunded {
		return nil, o.transitionError(OpRefund, now, "already refunded")
	}
	if o.IsReversal {
		return nil, o.transitionError(OpRefund, now, "a reversal cannot be refunded")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason", "is required")
	}

	parent := o.ID
	paidAt := now
	rev := o.Clone()
	rev.ID = NewObligationID()
	rev.Number = ""
	rev.GrossAmount = o.GrossAmount.Neg()
	rev.TechnologyFee = o.TechnologyFee.Neg()
	rev.RoyaltyAmount = o.RoyaltyAmount.Neg()
	rev.MarketingAmount = o.MarketingAmount.Neg()
	rev.Adjustment = o.Adjustment.Neg()
	rev.LateFee = o.LateFee.Neg()
	rev.recompute()
	rev.Status = StatusPaid
	rev.PaymentStatus = PaymentPaid
	rev.PaidAt = &paidAt
	rev.PaymentReference = "refund:" + string(o.ID)
	rev.IsRecurring = false
	rev.Recurrence = nil
	rev.ParentID = &parent
	rev.IsReversal = true
	rev.AutoGenerated = true
	rev.Notes = ""
	rev.AdjustmentNotes = ""
	rev.Attachments = nil
	rev.appendNote(now, "Refund", reason)
	rev.CreatedAt = now
	rev.UpdatedAt = now
	rev.Version = 0

	refundedAt := now
	o.PaymentStatus = PaymentRefunded
	o.RefundedAt = &refundedAt
	o.touch(now)
	return &rev, nil
}
