/*
ledger.go - Append-only payment ledger

PURPOSE:
  Every settlement of an obligation leaves a ledger entry written in the
  same transaction as the status change. Refunds add a negative entry; the
  original payment entry stays. Summing an obligation's entries yields
  what was actually collected net of refunds.

INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: payment:<id> and refund:<id> can each be written once.
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntryType string

const (
	LedgerPayment LedgerEntryType = "payment"
	LedgerRefund  LedgerEntryType = "refund"
)

type LedgerEntry struct {
	ID             LedgerEntryID
	ObligationID   ObligationID
	FranchiseID    FranchiseID
	UnitID         UnitID
	Type           LedgerEntryType
	Amount         decimal.Decimal
	Method         string
	Reference      string
	IdempotencyKey string
	CreatedAt      time.Time
}

func paymentEntry(o *Obligation, now time.Time) LedgerEntry {
	return LedgerEntry{
		ID:             NewLedgerEntryID(),
		ObligationID:   o.ID,
		FranchiseID:    o.FranchiseID,
		UnitID:         o.UnitID,
		Type:           LedgerPayment,
		Amount:         o.Total,
		Method:         o.PaymentMethod,
		Reference:      o.PaymentReference,
		IdempotencyKey: "payment:" + string(o.ID),
		CreatedAt:      now,
	}
}

func refundEntry(original, reversal *Obligation, now time.Time) LedgerEntry {
	return LedgerEntry{
		ID:             NewLedgerEntryID(),
		ObligationID:   original.ID,
		FranchiseID:    original.FranchiseID,
		UnitID:         original.UnitID,
		Type:           LedgerRefund,
		Amount:         reversal.Total,
		Method:         original.PaymentMethod,
		Reference:      string(reversal.ID),
		IdempotencyKey: "refund:" + string(original.ID),
		CreatedAt:      now,
	}
}

// NetCollected sums ledger entries.
func NetCollected(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
