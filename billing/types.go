/*
Package billing provides the franchise financial-obligation engine.

PURPOSE:
  This package computes and tracks what franchisees owe: royalties, revenue
  shares and recurring transaction charges. The same engine handles period
  calculation, fee arithmetic, the obligation lifecycle, recurrence chains
  and the monthly billing sweep.

KEY CONCEPTS IN THIS FILE (types.go):
  - IDs: Type-safe identifiers for obligations, franchises, units, parties
  - Kind: What an obligation bills (royalty, revenue, transaction)
  - Status: The stored lifecycle state (overdue is derived, never stored)
  - RecurrenceType / Frequency: Enums consumed by the period calculator

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, rounded once at the storage boundary
  2. Type Safety: Strong typing for IDs prevents mixing franchise/unit IDs
  3. Auditability: Refunds are compensating records, never edits
  4. Configuration is read-only: billing never mutates franchise rates

SEE ALSO:
  - period.go: Period calculator
  - fees.go: Fee calculator
  - lifecycle.go: State machine
  - service.go: Transactional orchestration
*/
package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CurrencyPlaces is the persisted precision of every monetary field.
const CurrencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundCurrency rounds to the persisted currency precision.
func RoundCurrency(d decimal.Decimal) decimal.Decimal { return d.Round(CurrencyPlaces) }

// DecimalPtr is a convenience for optional rate fields.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ObligationID string
type FranchiseID string
type UnitID string
type PartyID string
type LedgerEntryID string

// NewObligationID returns a fresh obligation identifier.
func NewObligationID() ObligationID { return ObligationID("obl_" + uuid.NewString()) }

// NewLedgerEntryID returns a fresh ledger entry identifier.
func NewLedgerEntryID() LedgerEntryID { return LedgerEntryID("led_" + uuid.NewString()) }

// Scope is the (franchise, unit) pair an obligation applies to.
// An empty UnitID is a franchise-level scope.
type Scope struct {
	FranchiseID FranchiseID
	UnitID      UnitID
}

func (s Scope) String() string {
	if s.UnitID == "" {
		return string(s.FranchiseID)
	}
	return fmt.Sprintf("%s/%s", s.FranchiseID, s.UnitID)
}

// =============================================================================
// ENUMS
// =============================================================================

// Kind identifies what an obligation bills.
type Kind string

const (
	KindRoyalty     Kind = "royalty"
	KindRevenue     Kind = "revenue"
	KindTransaction Kind = "transaction"
)

// NumberPrefix returns the human-readable number prefix for the kind.
func (k Kind) NumberPrefix() string {
	switch k {
	case KindRoyalty:
		return "ROY"
	case KindRevenue:
		return "REV"
	case KindTransaction:
		return "TXN"
	default:
		return "OBL"
	}
}

func (k Kind) Valid() bool {
	return k == KindRoyalty || k == KindRevenue || k == KindTransaction
}

// Status is the stored lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue" // derived from pending + due date, never persisted
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPaid, StatusOverdue, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks settlement separately from the lifecycle state so a
// refund can flip it without touching the paid record's status or amounts.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// PartyType identifies who is responsible for an obligation.
type PartyType string

const (
	PartyFranchisee PartyType = "franchisee"
	PartyCustomer   PartyType = "customer"
)

// Frequency is the billing frequency of a franchise.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

func (f Frequency) Valid() bool { return f == FrequencyMonthly || f == FrequencyQuarterly }

// RecurrenceType is the unit of a recurrence interval.
type RecurrenceType string

const (
	RecurDaily     RecurrenceType = "daily"
	RecurWeekly    RecurrenceType = "weekly"
	RecurMonthly   RecurrenceType = "monthly"
	RecurQuarterly RecurrenceType = "quarterly"
	RecurYearly    RecurrenceType = "yearly"
)

func (r RecurrenceType) Valid() bool {
	switch r {
	case RecurDaily, RecurWeekly, RecurMonthly, RecurQuarterly, RecurYearly:
		return true
	}
	return false
}

// Recurrence is the recurrence policy carried by a recurring obligation.
type Recurrence struct {
	Type     RecurrenceType
	Interval int
	EndDate  *time.Time
}
