/*
obligation.go - The Obligation Record

PURPOSE:
  An Obligation is one billable period of a royalty, revenue share or
  transaction charge for a scope. Royalty and revenue records are
  structurally identical, so a single type with a Kind covers both.

AMOUNT INVARIANT:
  Total = RoyaltyAmount + MarketingAmount + TechnologyFee + Adjustment + LateFee

  Total is never set directly. Every mutation goes through recompute().

DERIVED STATUS:
  "overdue" is not stored. A pending obligation whose due date has passed
  reports StatusOverdue from EffectiveStatus(asOf).

CHAINS:
  Recurrence children point at the chain root through ParentID.
  A refund's compensating record points at the refunded record through
  ParentID and carries IsReversal=true.

SEE ALSO:
  - lifecycle.go: State transitions
  - recurrence.go: Chain generation
*/
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OBLIGATION
// =============================================================================

type Obligation struct {
	ID     ObligationID
	Number string
	Kind   Kind

	// Scope
	FranchiseID FranchiseID
	UnitID      UnitID
	PartyID     PartyID
	PartyType   PartyType

	// Period
	Frequency   Frequency
	Year        int
	Month       time.Month
	Quarter     int // 1-4 for quarterly records, 0 otherwise
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueDate     time.Time

	// Amounts
	GrossAmount     decimal.Decimal
	RoyaltyPct      decimal.Decimal
	MarketingPct    decimal.Decimal
	TechnologyFee   decimal.Decimal
	RoyaltyAmount   decimal.Decimal
	MarketingAmount decimal.Decimal
	Adjustment      decimal.Decimal
	AdjustmentNotes string
	LateFee         decimal.Decimal
	Total           decimal.Decimal

	// Policy snapshot
	LateFeeRate     decimal.Decimal
	GracePeriodDays int

	// Status and payment
	Status           Status
	PaymentStatus    PaymentStatus
	PaidAt           *time.Time
	PaymentMethod    string
	PaymentReference string
	RefundedAt       *time.Time

	// Recurrence
	IsRecurring bool
	Recurrence  *Recurrence
	ParentID    *ObligationID
	IsReversal  bool

	// Audit
	Notes         string
	Attachments   []string
	AutoGenerated bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

// Scope returns the (franchise, unit) pair of the obligation.
func (o *Obligation) Scope() Scope {
	return Scope{FranchiseID: o.FranchiseID, UnitID: o.UnitID}
}

// Period returns the billing period of the obligation.
func (o *Obligation) Period() Period {
	return Period{Start: o.PeriodStart, End: o.PeriodEnd}
}

// RootID returns the recurrence chain root: the parent if set, else the record itself.
func (o *Obligation) RootID() ObligationID {
	if o.ParentID != nil && !o.IsReversal {
		return *o.ParentID
	}
	return o.ID
}

// EffectiveStatus returns the status as seen at asOf, deriving overdue.
func (o *Obligation) EffectiveStatus(asOf time.Time) Status {
	if o.Status == StatusPending && o.IsPastDue(asOf) {
		return StatusOverdue
	}
	return o.Status
}

// IsPastDue is true when asOf's calendar day is after the due date.
func (o *Obligation) IsPastDue(asOf time.Time) bool {
	return !o.DueDate.IsZero() && DateOf(asOf).After(DateOf(o.DueDate))
}

// recompute re-derives Total from its components.
func (o *Obligation) recompute() {
	o.Total = o.RoyaltyAmount.
		Add(o.MarketingAmount).
		Add(o.TechnologyFee).
		Add(o.Adjustment).
		Add(o.LateFee)
}

// applyFees computes component amounts from gross and rates, rounding once.
func (o *Obligation) applyFees() {
	fees := CalculateFees(o.GrossAmount, FeeRates{
		RoyaltyPct:    o.RoyaltyPct,
		MarketingPct:  o.MarketingPct,
		TechnologyFee: o.TechnologyFee,
	}).Rounded()
	o.RoyaltyAmount = fees.Royalty
	o.MarketingAmount = fees.Marketing
	o.TechnologyFee = fees.Technology
	o.recompute()
}

// setPeriod assigns the period and the fields derived from it.
func (o *Obligation) setPeriod(p Period, freq Frequency, graceDays int) {
	o.Frequency = freq
	o.PeriodStart = DateOf(p.Start)
	o.PeriodEnd = DateOf(p.End)
	o.Year = o.PeriodStart.Year()
	o.Month = o.PeriodStart.Month()
	o.Quarter = 0
	if freq == FrequencyQuarterly {
		o.Quarter = QuarterOf(o.Month)
	}
	o.DueDate = DueDate(o.PeriodEnd, graceDays)
}

// DueDate is the period end plus the grace period.
func DueDate(periodEnd time.Time, graceDays int) time.Time {
	return DateOf(periodEnd).AddDate(0, 0, graceDays)
}

// appendNote appends a dated line to notes without touching earlier lines.
func (o *Obligation) appendNote(now time.Time, label, text string) {
	line := fmt.Sprintf("[%s %s] %s", label, now.UTC().Format("2006-01-02"), strings.TrimSpace(text))
	if o.Notes == "" {
		o.Notes = line
		return
	}
	o.Notes = o.Notes + "\n" + line
}

// CheckInvariants verifies the record-level invariants. Stores call it before
// every write so an inconsistent record never reaches persistence.
func (o *Obligation) CheckInvariants() error {
	if err := o.Period().Validate(); err != nil {
		return err
	}
	if o.Year != o.PeriodStart.Year() || o.Month != o.PeriodStart.Month() {
		return invalid("period", "year/month %d-%02d inconsistent with start %s",
			o.Year, int(o.Month), o.PeriodStart.Format("2006-01-02"))
	}
	expected := o.RoyaltyAmount.Add(o.MarketingAmount).Add(o.TechnologyFee).Add(o.Adjustment).Add(o.LateFee)
	if !expected.Equal(o.Total) {
		return invalid("total_amount", "total %s does not equal sum of components %s", o.Total, expected)
	}
	if !o.IsReversal && o.LateFee.IsNegative() {
		return invalid("late_fee", "must be >= 0")
	}
	if o.Status == StatusOverdue {
		return invalid("status", "overdue is derived and cannot be stored")
	}
	return nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (o Obligation) Clone() Obligation {
	c := o
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.RefundedAt != nil {
		t := *o.RefundedAt
		c.RefundedAt = &t
	}
	if o.ParentID != nil {
		id := *o.ParentID
		c.ParentID = &id
	}
	if o.Recurrence != nil {
		r := *o.Recurrence
		if r.EndDate != nil {
			t := *r.EndDate
			r.EndDate = &t
		}
		c.Recurrence = &r
	}
	if o.Attachments != nil {
		c.Attachments = append([]string(nil), o.Attachments...)
	}
	return c
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// NewObligationInput is a validated request to create an obligation.
type NewObligationInput struct {
	Kind        Kind
	FranchiseID FranchiseID
	UnitID      UnitID
	PartyID     PartyID
	PartyType   PartyType

	Frequency Frequency
	Year      int
	Month     time.Month // monthly records
	Quarter   int        // quarterly records

	GrossAmount   decimal.Decimal
	RoyaltyPct    *decimal.Decimal
	MarketingPct  *decimal.Decimal
	TechnologyFee *decimal.Decimal

	// DueDate overrides period end + grace days when set.
	DueDate *time.Time
	Policy  Policy

	Recurrence *Recurrence
	Draft      bool

	Notes         string
	Attachments   []string
	CreatedBy     string
	AutoGenerated bool
}

// Validate checks the input at the boundary, before any computation.
func (in NewObligationInput) Validate() error {
	if !in.Kind.Valid() {
		return invalid("kind", "unknown kind %q", in.Kind)
	}
	if in.FranchiseID == "" {
		return invalid("franchise_id", "is required")
	}
	if in.PartyID == "" {
		return invalid("party_id", "is required")
	}
	freq := in.Frequency
	if freq == "" {
		freq = FrequencyMonthly
	}
	if !freq.Valid() {
		return invalid("frequency", "unknown frequency %q", in.Frequency)
	}
	if in.Year < 1900 || in.Year > 9999 {
		return invalid("year", "must be a four-digit year, got %d", in.Year)
	}
	if freq == FrequencyQuarterly {
		if in.Quarter < 1 || in.Quarter > 4 {
			return invalid("quarter", "must be within [1,4], got %d", in.Quarter)
		}
	} else if in.Month < time.January || in.Month > time.December {
		return invalid("month", "must be within [1,12], got %d", int(in.Month))
	}
	if in.RoyaltyPct == nil {
		return invalid("royalty_percentage", "is required")
	}
	if in.MarketingPct == nil {
		return invalid("marketing_fee_percentage", "is required")
	}
	rates := FeeRates{RoyaltyPct: *in.RoyaltyPct, MarketingPct: *in.MarketingPct}
	if in.TechnologyFee != nil {
		rates.TechnologyFee = *in.TechnologyFee
	}
	if err := ValidateFeeInputs(in.GrossAmount, rates); err != nil {
		return err
	}
	if in.Policy.LateFeeRate.IsNegative() || in.Policy.LateFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("late_fee_rate", "must be within [0,1], got %s", in.Policy.LateFeeRate)
	}
	if in.Policy.GracePeriodDays < 0 {
		return invalid("grace_period_days", "must be >= 0, got %d", in.Policy.GracePeriodDays)
	}
	if in.Recurrence != nil {
		if err := validateRecurrence(*in.Recurrence); err != nil {
			return err
		}
	}
	return nil
}

func validateRecurrence(r Recurrence) error {
	if !r.Type.Valid() {
		return invalid("recurrence_type", "unknown recurrence type %q", r.Type)
	}
	if r.Interval < 1 {
		return invalid("recurrence_interval", "must be a positive integer, got %d", r.Interval)
	}
	return nil
}

// NewObligation builds an obligation from validated input. It assigns an ID
// but no number; Service allocates the number inside the insert transaction.
func NewObligation(in NewObligationInput, now time.Time) (*Obligation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	freq := in.Frequency
	if freq == "" {
		freq = FrequencyMonthly
	}
	index := int(in.Month)
	if freq == FrequencyQuarterly {
		index = in.Quarter
	}
	partyType := in.PartyType
	if partyType == "" {
		partyType = PartyFranchisee
	}

	o := &Obligation{
		ID:              NewObligationID(),
		Kind:            in.Kind,
		FranchiseID:     in.FranchiseID,
		UnitID:          in.UnitID,
		PartyID:         in.PartyID,
		PartyType:       partyType,
		GrossAmount:     in.GrossAmount,
		RoyaltyPct:      *in.RoyaltyPct,
		MarketingPct:    *in.MarketingPct,
		TechnologyFee:   decimal.Zero,
		Adjustment:      decimal.Zero,
		LateFee:         decimal.Zero,
		LateFeeRate:     in.Policy.LateFeeRate,
		GracePeriodDays: in.Policy.GracePeriodDays,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		Notes:           in.Notes,
		Attachments:     in.Attachments,
		AutoGenerated:   in.AutoGenerated,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.TechnologyFee != nil {
		o.TechnologyFee = *in.TechnologyFee
	}
	if in.Draft {
		o.Status = StatusDraft
	}
	if in.Recurrence != nil {
		r := *in.Recurrence
		o.IsRecurring = true
		o.Recurrence = &r
	}

	o.setPeriod(ComputePeriod(in.Year, index, freq), freq, in.Policy.GracePeriodDays)
	if in.DueDate != nil {
		o.DueDate = DateOf(*in.DueDate)
	}
	o.applyFees()
	o.GrossAmount = RoundCurrency(o.GrossAmount)
	return o, nil
}
