/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Franchise configuration and revenue endpoints
- Monthly sweep endpoint and its audit log
- Obligation lifecycle endpoints (pay, late fee, dispute, refund)
- Error mapping to HTTP status and structured bodies
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/factory"
	"github.com/warp/franchise-billing/store/sqlite"
)

type testEnv struct {
	t       *testing.T
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
	now     time.Time
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{t: t, store: store, now: time.Date(2024, time.April, 10, 9, 0, 0, 0, time.UTC)}

	svc := billing.NewService(store)
	svc.Now = func() time.Time { return env.now }
	sweeper := billing.NewSweeper(svc, store, store)
	sweeper.Runs = store

	env.handler = NewHandler(store, svc, sweeper)
	env.router = NewRouter(env.handler, nil)
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedFranchise creates fr-1 (8% / 2% / $50) with unit u-1 and $100,000 of
// March 2024 revenue.
func (e *testEnv) seedFranchise() {
	e.t.Helper()
	rec := e.do("POST", "/api/franchises", factory.StandardRoyaltyJSON("fr-1", "Austin", 8, 2, 50))
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do("POST", "/api/franchises/fr-1/units", UnitRequest{ID: "u-1", Name: "Congress Ave"})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, r := range []string{
		`{"franchise_id": "fr-1", "unit_id": "u-1", "date": "2024-03-01", "amount": "60000"}`,
		`{"franchise_id": "fr-1", "unit_id": "u-1", "date": "2024-03-31", "amount": 40000}`,
		// Outside the period
		`{"franchise_id": "fr-1", "unit_id": "u-1", "date": "2024-04-01", "amount": "999"}`,
	} {
		rec = e.do("POST", "/api/revenue", r)
		require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func (e *testEnv) createMarch() ObligationDTO {
	e.t.Helper()
	rec := e.do("POST", "/api/obligations", map[string]any{
		"kind": "royalty", "franchise_id": "fr-1", "unit_id": "u-1",
		"year": 2024, "month": 3, "gross_amount": "100000",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[ObligationDTO](e.t, rec)
}

// =============================================================================
// FRANCHISES
// =============================================================================

func TestFranchise_SaveAndGet(t *testing.T) {
	// GIVEN: A franchise saved through the factory JSON
	env := setupTestHandler(t)
	env.seedFranchise()

	// WHEN: Fetching it
	rec := env.do("GET", "/api/franchises/fr-1", nil)

	// THEN: Rates and the added unit are returned
	require.Equal(t, http.StatusOK, rec.Code)
	fj := decodeAs[factory.FranchiseJSON](t, rec)
	assert.Equal(t, "8", fj.RoyaltyPct.String())
	require.Len(t, fj.Units, 1)
	assert.Equal(t, "u-1", fj.Units[0].ID)

	list := decodeAs[[]factory.FranchiseJSON](t, env.do("GET", "/api/franchises", nil))
	assert.Len(t, list, 1)
}

func TestFranchise_Errors(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do("GET", "/api/franchises/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do("POST", "/api/franchises", `{"id": "x", "name": "x", "royalty_percentage": 120}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeAs[ErrorResponse](t, rec).Code)

	rec = env.do("POST", "/api/franchises/nope/units", UnitRequest{ID: "u", Name: "n"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do("POST", "/api/revenue", `{"franchise_id": "fr-1", "date": "03/01/2024", "amount": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweep_CreatesRoyaltyOnce(t *testing.T) {
	// GIVEN: fr-1/u-1 with $100,000 March revenue
	env := setupTestHandler(t)
	env.seedFranchise()

	// WHEN: Sweeping March 2024
	rec := env.do("POST", "/api/billing/sweep", SweepRequest{Year: 2024, Month: 3})

	// THEN: One obligation of 8,000 + 2,000 + 50 due April 15
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeAs[SweepReportDTO](t, rec)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "created", report.Results[0].Outcome)
	assert.Equal(t, "ROY-202403-0001", report.Results[0].Number)
	assert.Equal(t, "10050.00", report.Results[0].Total)

	list := decodeAs[[]ObligationDTO](t, env.do("GET", "/api/obligations?franchise_id=fr-1", nil))
	require.Len(t, list, 1)
	o := list[0]
	assert.Equal(t, "2024-03-01", o.PeriodStart)
	assert.Equal(t, "2024-03-31", o.PeriodEnd)
	assert.Equal(t, "2024-04-15", o.DueDate)
	assert.Equal(t, "100000.00", o.GrossAmount)
	assert.Equal(t, "8000.00", o.RoyaltyAmount)
	assert.Equal(t, "2000.00", o.MarketingAmount)
	assert.Equal(t, "pending", o.Status)
	assert.True(t, o.AutoGenerated)
	assert.Equal(t, "system", o.CreatedBy)

	// WHEN: Sweeping the same month again
	again := decodeAs[SweepReportDTO](t, env.do("POST", "/api/billing/sweep", SweepRequest{Year: 2024, Month: 3}))

	// THEN: Nothing new, the existing record is reported
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, "skipped_existing", again.Results[0].Outcome)
	assert.Equal(t, o.ID, again.Results[0].ObligationID)

	runs := decodeAs[[]SweepRunDTO](t, env.do("GET", "/api/billing/runs?status=completed", nil))
	assert.Len(t, runs, 2)
}

func TestSweep_RejectsBadMonth(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do("POST", "/api/billing/sweep", SweepRequest{Year: 2024, Month: 13})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "month", body.Details.(map[string]any)["field"])
}

type heldLocker struct{}

func (heldLocker) Obtain(context.Context, string, time.Duration) (billing.Lock, error) {
	return nil, billing.ErrLockNotObtained
}

func TestSweep_LockHeldIsRetryable(t *testing.T) {
	env := setupTestHandler(t)
	env.handler.Sweeper.Locker = heldLocker{}

	rec := env.do("POST", "/api/billing/sweep", SweepRequest{Year: 2024, Month: 3})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "sweep_in_progress", decodeAs[ErrorResponse](t, rec).Code)
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func TestCreateObligation_UsesFranchiseRates(t *testing.T) {
	// GIVEN: A configured franchise and a request without rates
	env := setupTestHandler(t)
	env.seedFranchise()

	// WHEN: Creating the March obligation manually
	o := env.createMarch()

	// THEN: The franchise rates, party and default policy were applied
	assert.Equal(t, "8", o.RoyaltyPct)
	assert.Equal(t, "2", o.MarketingPct)
	assert.Equal(t, "50.00", o.TechnologyFee)
	assert.Equal(t, "10050.00", o.Total)
	assert.Equal(t, "fr-1", o.PartyID)
	assert.Equal(t, "0.05", o.LateFeeRate)
	assert.Equal(t, 15, o.GracePeriodDays)
	assert.Equal(t, 1, o.Version)
	assert.Equal(t, "ROY-202403-0001", o.Number)

	got := decodeAs[ObligationDTO](t, env.do("GET", "/api/obligations/"+o.ID, nil))
	assert.Equal(t, o.Number, got.Number)
}

func TestCreateObligation_UsesConfiguredPolicy(t *testing.T) {
	// GIVEN: A handler configured with a 10% / 30 day policy
	env := setupTestHandler(t)
	env.seedFranchise()
	env.handler.Policy = billing.Policy{LateFeeRate: decimal.RequireFromString("0.1"), GracePeriodDays: 30}

	// WHEN: Creating without a policy in the request
	o := env.createMarch()

	// THEN: The handler policy applies and the package default is untouched
	assert.Equal(t, "0.1", o.LateFeeRate)
	assert.Equal(t, 30, o.GracePeriodDays)
	assert.Equal(t, "2024-04-30", o.DueDate)
	assert.Equal(t, 15, billing.DefaultPolicy.GracePeriodDays)
}

func TestCreateObligation_Errors(t *testing.T) {
	env := setupTestHandler(t)
	env.seedFranchise()
	first := env.createMarch()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{"missing kind", `{"franchise_id": "fr-1", "year": 2024, "month": 3}`, 400, "validation_error", "kind"},
		{"month out of range", `{"kind": "royalty", "franchise_id": "fr-1", "year": 2024, "month": 13}`, 400, "validation_error", "month"},
		{"royalty over 100", `{"kind": "revenue", "franchise_id": "fr-1", "year": 2024, "month": 3, "gross_amount": 1, "royalty_percentage": 150}`, 400, "validation_error", "royalty_percentage"},
		{"negative gross", `{"kind": "revenue", "franchise_id": "fr-1", "year": 2024, "month": 3, "gross_amount": -1}`, 400, "validation_error", "gross_amount"},
		{"unknown franchise without party", `{"kind": "royalty", "franchise_id": "ghost", "year": 2024, "month": 3, "royalty_percentage": 1, "marketing_fee_percentage": 1}`, 400, "validation_error", "party_id"},
		{"malformed json", `{"kind":`, 400, "validation_error", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("POST", "/api/obligations", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeAs[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.field, body.Details.(map[string]any)["field"])
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		rec := env.do("POST", "/api/obligations", map[string]any{
			"kind": "royalty", "franchise_id": "fr-1", "unit_id": "u-1",
			"year": 2024, "month": 3, "gross_amount": "5",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, "duplicate_obligation", body.Code)
		assert.Equal(t, first.ID, body.Details.(map[string]any)["existing_id"])
	})
}

func TestGetObligation_NotFound(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do("GET", "/api/obligations/obl_missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeAs[ErrorResponse](t, rec).Code)
}

func TestPayAndRefund(t *testing.T) {
	// GIVEN: A pending March obligation
	env := setupTestHandler(t)
	env.seedFranchise()
	o := env.createMarch()

	// WHEN: Paying it
	rec := env.do("POST", "/api/obligations/"+o.ID+"/pay", PayRequest{PaymentMethod: "ach", PaymentReference: "ACH-1"})

	// THEN: It is paid and the ledger holds the payment
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, "paid", paid.PaymentStatus)
	require.NotNil(t, paid.PaidAt)

	// WHEN: Paying again
	rec = env.do("POST", "/api/obligations/"+o.ID+"/pay", PayRequest{PaymentMethod: "ach"})

	// THEN: 409 naming the current state and the attempted operation
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_state_transition", body.Code)
	details := body.Details.(map[string]any)
	assert.Equal(t, "paid", details["current_status"])
	assert.NotEmpty(t, details["operation"])

	// WHEN: Refunding
	rec = env.do("POST", "/api/obligations/"+o.ID+"/refund", ReasonRequest{Reason: "billed twice"})

	// THEN: A negated reversal exists and the original amounts are unchanged
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := decodeAs[RefundResponse](t, rec)
	assert.Equal(t, "refunded", refund.Original.PaymentStatus)
	assert.Equal(t, "10050.00", refund.Original.Total)
	assert.True(t, refund.Reversal.IsReversal)
	assert.Equal(t, "-10050.00", refund.Reversal.Total)
	assert.Equal(t, "-8000.00", refund.Reversal.RoyaltyAmount)
	assert.Equal(t, o.ID, refund.Reversal.ParentID)

	ledger := decodeAs[LedgerResponse](t, env.do("GET", "/api/obligations/"+o.ID+"/ledger", nil))
	require.Len(t, ledger.Entries, 2)
	assert.Equal(t, "0.00", ledger.NetCollected)

	// A second refund is rejected
	rec = env.do("POST", "/api/obligations/"+o.ID+"/refund", ReasonRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLateFee_AppliedOnce(t *testing.T) {
	// GIVEN: A March obligation due April 15, viewed on April 20
	env := setupTestHandler(t)
	env.seedFranchise()
	o := env.createMarch()

	rec := env.do("POST", "/api/obligations/"+o.ID+"/late-fee", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "not overdue yet")

	env.now = time.Date(2024, time.April, 20, 9, 0, 0, 0, time.UTC)
	got := decodeAs[ObligationDTO](t, env.do("GET", "/api/obligations/"+o.ID, nil))
	assert.Equal(t, "overdue", got.Status)

	overdue := decodeAs[[]ObligationDTO](t, env.do("GET", "/api/obligations?status=overdue", nil))
	assert.Len(t, overdue, 1)

	// WHEN: Applying the late fee twice
	first := decodeAs[LateFeeResponse](t, env.do("POST", "/api/obligations/"+o.ID+"/late-fee", nil))
	second := decodeAs[LateFeeResponse](t, env.do("POST", "/api/obligations/"+o.ID+"/late-fee", nil))

	// THEN: 5% of 10,050 is charged once
	assert.True(t, first.Applied)
	assert.Equal(t, "502.50", first.Obligation.LateFee)
	assert.Equal(t, "10552.50", first.Obligation.Total)
	assert.False(t, second.Applied)
	assert.Equal(t, "10552.50", second.Obligation.Total)
}

func TestDisputeBlocksPayment(t *testing.T) {
	// GIVEN: A disputed obligation
	env := setupTestHandler(t)
	env.seedFranchise()
	o := env.createMarch()

	rec := env.do("POST", "/api/obligations/"+o.ID+"/dispute", ReasonRequest{Reason: "revenue overstated"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decodeAs[ObligationDTO](t, rec).Notes, "revenue overstated")

	// WHEN: Paying while disputed
	rec = env.do("POST", "/api/obligations/"+o.ID+"/pay", PayRequest{PaymentMethod: "ach"})

	// THEN: Rejected until the dispute is resolved
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do("POST", "/api/obligations/"+o.ID+"/resolve", ResolveRequest{Resolution: "revenue confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("POST", "/api/obligations/"+o.ID+"/pay", PayRequest{PaymentMethod: "ach"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdjustAndCancel(t *testing.T) {
	env := setupTestHandler(t)
	env.seedFranchise()
	o := env.createMarch()

	rec := env.do("POST", "/api/obligations/"+o.ID+"/adjustment", `{"amount": "-50", "notes": "technology fee waived"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adjusted := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "-50.00", adjusted.Adjustment)
	assert.Equal(t, "10000.00", adjusted.Total)

	rec = env.do("POST", "/api/obligations/"+o.ID+"/adjustment", `{"amount": "10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "notes are required")

	rec = env.do("POST", "/api/obligations/"+o.ID+"/cancel", ReasonRequest{Reason: "unit closed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeAs[ObligationDTO](t, rec).Status)

	rec = env.do("POST", "/api/obligations/"+o.ID+"/adjustment", `{"amount": "10", "notes": "late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDraftSubmit(t *testing.T) {
	env := setupTestHandler(t)
	env.seedFranchise()

	rec := env.do("POST", "/api/obligations", map[string]any{
		"kind": "revenue", "franchise_id": "fr-1", "unit_id": "u-1",
		"year": 2024, "month": 2, "gross_amount": "1000", "draft": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "draft", draft.Status)
	assert.Equal(t, "REV-202402-0001", draft.Number)

	// February is due 2024-03-15, already past on the fixture clock
	rec = env.do("POST", "/api/obligations/"+draft.ID+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	submitted := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "overdue", submitted.Status)
	assert.Equal(t, "2024-03-15", submitted.DueDate)

	rec = env.do("POST", "/api/obligations/"+draft.ID+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecurringNextAndSeries(t *testing.T) {
	// GIVEN: A monthly recurring charge ending in March
	env := setupTestHandler(t)
	env.seedFranchise()
	rec := env.do("POST", "/api/obligations", map[string]any{
		"kind": "transaction", "franchise_id": "fr-1",
		"year": 2024, "month": 1, "gross_amount": "0",
		"recurrence": map[string]any{"type": "monthly", "interval": 1, "end_date": "2024-03-31"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	root := decodeAs[ObligationDTO](t, rec)
	assert.True(t, root.IsRecurring)

	// WHEN: Generating from the root twice
	first := env.do("POST", "/api/obligations/"+root.ID+"/next", nil)
	repeat := env.do("POST", "/api/obligations/"+root.ID+"/next", nil)

	// THEN: February is created once
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	feb := decodeAs[NextResponse](t, first)
	require.NotNil(t, feb.Obligation)
	assert.Equal(t, "2024-02-01", feb.Obligation.PeriodStart)
	assert.Equal(t, root.ID, feb.Obligation.ParentID)

	require.Equal(t, http.StatusOK, repeat.Code)
	again := decodeAs[NextResponse](t, repeat)
	assert.False(t, again.Created)
	assert.Equal(t, feb.Obligation.ID, again.Obligation.ID)

	mar := decodeAs[NextResponse](t, env.do("POST", "/api/obligations/"+feb.Obligation.ID+"/next", nil))
	require.NotNil(t, mar.Obligation)
	assert.Equal(t, root.ID, mar.Obligation.ParentID)

	end := decodeAs[NextResponse](t, env.do("POST", "/api/obligations/"+mar.Obligation.ID+"/next", nil))
	assert.True(t, end.Terminated)
	assert.Nil(t, end.Obligation)

	series := decodeAs[[]ObligationDTO](t, env.do("GET", "/api/obligations/"+mar.Obligation.ID+"/series", nil))
	assert.Len(t, series, 3)
}

func TestListObligations_BadFilter(t *testing.T) {
	env := setupTestHandler(t)

	for _, q := range []string{"?kind=rent", "?status=late", "?year=abc", "?month=14", "?as_of=yesterday"} {
		rec := env.do("GET", "/api/obligations"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
