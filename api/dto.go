/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal billing model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings with two places ("10050.00"); percentages
  are exact decimal strings ("8.5"). Requests accept JSON numbers or
  strings for any decimal field.

VALIDATION:
  Request types carry go-playground/validator tags checked by decode() in
  handlers.go. Domain rules (rate ranges, state transitions) are enforced
  by the billing package and surface as the same error body.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/franchise.go: FranchiseJSON type
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// OBLIGATIONS
// =============================================================================

// ObligationDTO represents an obligation in API responses. Status is the
// effective status at response time, so past-due records read "overdue".
type ObligationDTO struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Kind      string `json:"kind"`
	Franchise string `json:"franchise_id"`
	Unit      string `json:"unit_id,omitempty"`
	PartyID   string `json:"party_id"`
	PartyType string `json:"party_type"`

	Frequency   string `json:"frequency"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	Quarter     int    `json:"quarter,omitempty"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	DueDate     string `json:"due_date"`

	GrossAmount     string `json:"gross_amount"`
	RoyaltyPct      string `json:"royalty_percentage"`
	MarketingPct    string `json:"marketing_fee_percentage"`
	TechnologyFee   string `json:"technology_fee"`
	RoyaltyAmount   string `json:"royalty_amount"`
	MarketingAmount string `json:"marketing_fee_amount"`
	Adjustment      string `json:"adjustment_amount"`
	AdjustmentNotes string `json:"adjustment_notes,omitempty"`
	LateFee         string `json:"late_fee"`
	Total           string `json:"total_amount"`
	LateFeeRate     string `json:"late_fee_rate"`
	GracePeriodDays int    `json:"grace_period_days"`

	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`

	IsRecurring bool           `json:"is_recurring"`
	Recurrence  *RecurrenceDTO `json:"recurrence,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	IsReversal  bool           `json:"is_reversal"`

	Notes         string    `json:"notes,omitempty"`
	Attachments   []string  `json:"attachments,omitempty"`
	AutoGenerated bool      `json:"auto_generated"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int       `json:"version"`
}

// RecurrenceDTO is the recurrence rule of an obligation.
type RecurrenceDTO struct {
	Type     string `json:"type" validate:"required,oneof=daily weekly monthly quarterly yearly"`
	Interval int    `json:"interval" validate:"min=1"`
	EndDate  string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func money(d decimal.Decimal) string { return d.StringFixed(billing.CurrencyPlaces) }

func day(t time.Time) string { return t.Format(dateLayout) }

func toObligationDTO(o billing.Obligation, asOf time.Time) ObligationDTO {
	dto := ObligationDTO{
		ID:        string(o.ID),
		Number:    o.Number,
		Kind:      string(o.Kind),
		Franchise: string(o.FranchiseID),
		Unit:      string(o.UnitID),
		PartyID:   string(o.PartyID),
		PartyType: string(o.PartyType),

		Frequency:   string(o.Frequency),
		Year:        o.Year,
		Month:       int(o.Month),
		Quarter:     o.Quarter,
		PeriodStart: day(o.PeriodStart),
		PeriodEnd:   day(o.PeriodEnd),
		DueDate:     day(o.DueDate),

		GrossAmount:     money(o.GrossAmount),
		RoyaltyPct:      o.RoyaltyPct.String(),
		MarketingPct:    o.MarketingPct.String(),
		TechnologyFee:   money(o.TechnologyFee),
		RoyaltyAmount:   money(o.RoyaltyAmount),
		MarketingAmount: money(o.MarketingAmount),
		Adjustment:      money(o.Adjustment),
		AdjustmentNotes: o.AdjustmentNotes,
		LateFee:         money(o.LateFee),
		Total:           money(o.Total),
		LateFeeRate:     o.LateFeeRate.String(),
		GracePeriodDays: o.GracePeriodDays,

		Status:           string(o.EffectiveStatus(asOf)),
		PaymentStatus:    string(o.PaymentStatus),
		PaidAt:           o.PaidAt,
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
		RefundedAt:       o.RefundedAt,

		IsRecurring: o.IsRecurring,
		IsReversal:  o.IsReversal,

		Notes:         o.Notes,
		Attachments:   o.Attachments,
		AutoGenerated: o.AutoGenerated,
		CreatedBy:     o.CreatedBy,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Version:       o.Version,
	}
	if o.Recurrence != nil {
		rec := &RecurrenceDTO{Type: string(o.Recurrence.Type), Interval: o.Recurrence.Interval}
		if o.Recurrence.EndDate != nil {
			rec.EndDate = day(*o.Recurrence.EndDate)
		}
		dto.Recurrence = rec
	}
	if o.ParentID != nil {
		dto.ParentID = string(*o.ParentID)
	}
	return dto
}

func toObligationDTOs(list []billing.Obligation, asOf time.Time) []ObligationDTO {
	return lo.Map(list, func(o billing.Obligation, _ int) ObligationDTO {
		return toObligationDTO(o, asOf)
	})
}

// CreateObligationRequest is the body of POST /api/obligations. Omitted
// rates and policy values come from the franchise configuration.
type CreateObligationRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=royalty revenue transaction"`
	FranchiseID string `json:"franchise_id" validate:"required"`
	UnitID      string `json:"unit_id,omitempty"`
	PartyID     string `json:"party_id,omitempty"`
	PartyType   string `json:"party_type,omitempty" validate:"omitempty,oneof=franchisee customer"`

	Frequency string `json:"frequency,omitempty" validate:"omitempty,oneof=monthly quarterly"`
	Year      int    `json:"year" validate:"required,gte=1900,lte=9999"`
	Month     int    `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Quarter   int    `json:"quarter,omitempty" validate:"omitempty,min=1,max=4"`

	GrossAmount     decimal.Decimal  `json:"gross_amount"`
	RoyaltyPct      *decimal.Decimal `json:"royalty_percentage,omitempty"`
	MarketingPct    *decimal.Decimal `json:"marketing_fee_percentage,omitempty"`
	TechnologyFee   *decimal.Decimal `json:"technology_fee,omitempty"`
	DueDate         string           `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	LateFeeRate     *decimal.Decimal `json:"late_fee_rate,omitempty"`
	GracePeriodDays *int             `json:"grace_period_days,omitempty" validate:"omitempty,gte=0"`

	Recurrence  *RecurrenceDTO `json:"recurrence,omitempty"`
	Draft       bool           `json:"draft,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
}

// PayRequest settles an obligation.
type PayRequest struct {
	PaymentMethod    string `json:"payment_method" validate:"required"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

// AdjustmentRequest replaces the adjustment of an obligation.
type AdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"required"`
}

// ReasonRequest carries the reason of a dispute, cancellation or refund.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ResolveRequest closes a dispute.
type ResolveRequest struct {
	Resolution string `json:"resolution" validate:"required"`
}

// LateFeeResponse reports whether a late fee was applied by this call.
type LateFeeResponse struct {
	Obligation ObligationDTO `json:"obligation"`
	Applied    bool          `json:"applied"`
}

// RefundResponse holds the refunded original and its reversal record.
type RefundResponse struct {
	Original ObligationDTO `json:"original"`
	Reversal ObligationDTO `json:"reversal"`
}

// NextResponse is the result of generating the next recurrence.
type NextResponse struct {
	Obligation *ObligationDTO `json:"obligation,omitempty"`
	Created    bool           `json:"created"`
	Terminated bool           `json:"terminated"`
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerEntryDTO struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Method    string    `json:"method,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LedgerResponse struct {
	ObligationID string           `json:"obligation_id"`
	Entries      []LedgerEntryDTO `json:"entries"`
	NetCollected string           `json:"net_collected"`
}

// =============================================================================
// FRANCHISES AND REVENUE
// =============================================================================

// UnitRequest adds or updates a unit of a franchise.
type UnitRequest struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	OwnerID string `json:"owner_id,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// RevenueRequest records gross revenue for a scope and day.
type RevenueRequest struct {
	FranchiseID string          `json:"franchise_id" validate:"required"`
	UnitID      string          `json:"unit_id,omitempty"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source,omitempty"`
}

type RevenueDTO struct {
	ID          string `json:"id"`
	FranchiseID string `json:"franchise_id"`
	UnitID      string `json:"unit_id,omitempty"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Source      string `json:"source,omitempty"`
}

// =============================================================================
// BILLING SWEEP
// =============================================================================

// SweepRequest triggers the monthly sweep.
type SweepRequest struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

type ScopeResultDTO struct {
	FranchiseID  string `json:"franchise_id"`
	UnitID       string `json:"unit_id,omitempty"`
	Outcome      string `json:"outcome"`
	ObligationID string `json:"obligation_id,omitempty"`
	Number       string `json:"number,omitempty"`
	Total        string `json:"total_amount,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SweepReportDTO struct {
	RunID   string           `json:"run_id"`
	Year    int              `json:"year"`
	Month   int              `json:"month"`
	Created int              `json:"created"`
	Skipped int              `json:"skipped"`
	Failed  int              `json:"failed"`
	Results []ScopeResultDTO `json:"results"`
}

func toSweepReportDTO(r *billing.SweepReport) SweepReportDTO {
	return SweepReportDTO{
		RunID:   r.RunID,
		Year:    r.Year,
		Month:   int(r.Month),
		Created: r.Created(),
		Skipped: r.Skipped(),
		Failed:  r.Failed(),
		Results: lo.Map(r.Results, func(res billing.ScopeResult, _ int) ScopeResultDTO {
			dto := ScopeResultDTO{
				FranchiseID:  string(res.Scope.FranchiseID),
				UnitID:       string(res.Scope.UnitID),
				Outcome:      string(res.Outcome),
				ObligationID: string(res.ObligationID),
				Number:       res.Number,
			}
			if res.ObligationID != "" {
				dto.Total = money(res.Total)
			}
			if res.Err != nil {
				dto.Error = res.Err.Error()
			}
			return dto
		}),
	}
}

// SweepRunDTO is a row of the sweep audit log.
type SweepRunDTO struct {
	ID          string     `json:"id"`
	Year        int        `json:"year"`
	Month       int        `json:"month"`
	Status      string     `json:"status"`
	Created     int        `json:"created"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
