package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(s string) *decimal.Decimal { return billing.DecimalPtr(dec(s)) }

// march2024 is a pending royalty on $100,000 at 8% / 2% / $50, due 2024-04-15.
func march2024() billing.NewObligationInput {
	return billing.NewObligationInput{
		Kind:          billing.KindRoyalty,
		FranchiseID:   "fr-1",
		UnitID:        "u-1",
		PartyID:       "party-1",
		Year:          2024,
		Month:         time.March,
		GrossAmount:   dec("100000"),
		RoyaltyPct:    pct("8"),
		MarketingPct:  pct("2"),
		TechnologyFee: pct("50"),
		Policy:        billing.DefaultPolicy,
		CreatedBy:     "tester",
	}
}

var (
	beforeDue = time.Date(2024, time.April, 10, 12, 0, 0, 0, time.UTC)
	afterDue  = time.Date(2024, time.April, 20, 12, 0, 0, 0, time.UTC)
)

func newPending(t *testing.T) *billing.Obligation {
	t.Helper()
	o, err := billing.NewObligation(march2024(), beforeDue)
	require.NoError(t, err)
	return o
}

// clock is a settable time source for Service.Now.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T) (*billing.Service, *store.TxMemory, *clock, *billing.RecordingSink) {
	t.Helper()
	mem := store.NewTxMemory()
	c := &clock{now: beforeDue}
	sink := &billing.RecordingSink{}
	svc := billing.NewService(mem)
	svc.Now = c.Now
	svc.Events = sink
	return svc, mem, c, sink
}
