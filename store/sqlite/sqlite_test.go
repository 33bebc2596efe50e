package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2024, time.April, 10, 9, 0, 0, 0, time.UTC)

func newService(s *sqlite.Store, now time.Time) *billing.Service {
	svc := billing.NewService(s)
	svc.Now = func() time.Time { return now }
	return svc
}

func royaltyInput(unit billing.UnitID, month time.Month) billing.NewObligationInput {
	return billing.NewObligationInput{
		Kind:          billing.KindRoyalty,
		FranchiseID:   "fr-1",
		UnitID:        unit,
		PartyID:       "party-1",
		Year:          2024,
		Month:         month,
		GrossAmount:   dec("100000"),
		RoyaltyPct:    lo.ToPtr(dec("8")),
		MarketingPct:  lo.ToPtr(dec("2")),
		TechnologyFee: lo.ToPtr(dec("50")),
		Policy:        billing.DefaultPolicy,
		Notes:         "imported",
		Attachments:   []string{"statement.pdf"},
		CreatedBy:     "tester",
	}
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func TestObligation_RoundTrip(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	in := royaltyInput("u-1", time.March)
	end := billing.Date(2024, 12, 31)
	in.Recurrence = &billing.Recurrence{Type: billing.RecurMonthly, Interval: 1, EndDate: &end}
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)

	got, err := s.GetObligation(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, "ROY-202403-0001", got.Number)
	assert.Equal(t, billing.Date(2024, 3, 1), got.PeriodStart)
	assert.Equal(t, billing.Date(2024, 4, 15), got.DueDate)
	assert.True(t, got.Total.Equal(dec("10050")))
	assert.True(t, got.LateFeeRate.Equal(dec("0.05")))
	assert.Equal(t, 15, got.GracePeriodDays)
	assert.Equal(t, []string{"statement.pdf"}, got.Attachments)
	assert.Equal(t, 1, got.Version)
	require.NotNil(t, got.Recurrence)
	assert.Equal(t, billing.RecurMonthly, got.Recurrence.Type)
	require.NotNil(t, got.Recurrence.EndDate)
	assert.Equal(t, end, *got.Recurrence.EndDate)
	assert.True(t, got.CreatedAt.Equal(testNow))
	assert.NoError(t, got.CheckInvariants())

	_, err = s.GetObligation(ctx, "obl_missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestObligation_UniquePeriod(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	first, err := svc.Create(ctx, royaltyInput("u-1", time.March))
	require.NoError(t, err)

	_, err = svc.Create(ctx, royaltyInput("u-1", time.March))
	var dup *billing.DuplicateObligationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	// The rolled back insert released its sequence
	second, err := svc.Create(ctx, royaltyInput("u-2", time.March))
	require.NoError(t, err)
	assert.Equal(t, "ROY-202403-0002", second.Number)

	other := royaltyInput("u-1", time.March)
	other.Kind = billing.KindRevenue
	_, err = svc.Create(ctx, other)
	assert.NoError(t, err)
}

func TestObligation_VersionConflict(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	o, err := svc.Create(ctx, royaltyInput("u-1", time.March))
	require.NoError(t, err)
	stale, err := s.GetObligation(ctx, o.ID)
	require.NoError(t, err)

	updated, err := svc.Dispute(ctx, o.ID, "gross overstated")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	stale.Notes = "lost update"
	assert.ErrorIs(t, s.UpdateObligation(ctx, *stale), billing.ErrConcurrentModification)

	ghost := *stale
	ghost.ID = "obl_ghost"
	assert.ErrorIs(t, s.UpdateObligation(ctx, ghost), billing.ErrNotFound)
}

func TestListObligations_DerivedOverdue(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	feb, err := svc.Create(ctx, royaltyInput("u-1", time.February)) // due 2024-03-15
	require.NoError(t, err)
	_, err = svc.Create(ctx, royaltyInput("u-1", time.March)) // due 2024-04-15
	require.NoError(t, err)
	paid, err := svc.Create(ctx, royaltyInput("u-2", time.February))
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, paid.ID, "ach", "")
	require.NoError(t, err)

	overdue, err := s.ListObligations(ctx, billing.ObligationFilter{Status: billing.StatusOverdue, AsOf: testNow})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, feb.ID, overdue[0].ID)
	assert.Equal(t, billing.StatusPending, overdue[0].Status)

	pending, err := s.ListObligations(ctx, billing.ObligationFilter{Status: billing.StatusPending, AsOf: testNow})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// The due date itself is not overdue
	onDue, err := s.ListObligations(ctx, billing.ObligationFilter{Status: billing.StatusOverdue, AsOf: billing.Date(2024, 4, 15)})
	require.NoError(t, err)
	assert.Len(t, onDue, 1)

	u2 := billing.UnitID("u-2")
	byUnit, err := s.ListObligations(ctx, billing.ObligationFilter{UnitID: &u2})
	require.NoError(t, err)
	require.Len(t, byUnit, 1)
	assert.Equal(t, billing.StatusPaid, byUnit[0].Status)

	march, err := s.ListObligations(ctx, billing.ObligationFilter{Year: 2024, Month: time.March, Kind: billing.KindRoyalty})
	require.NoError(t, err)
	assert.Len(t, march, 1)

	limited, err := s.ListObligations(ctx, billing.ObligationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, billing.Date(2024, 2, 1), limited[0].PeriodStart)
}

func TestListObligations_MatchesFilterSemantics(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	for _, m := range []time.Month{time.January, time.February, time.March} {
		_, err := svc.Create(ctx, royaltyInput("u-1", m))
		require.NoError(t, err)
	}
	all, err := s.ListObligations(ctx, billing.ObligationFilter{})
	require.NoError(t, err)

	filters := []billing.ObligationFilter{
		{Status: billing.StatusOverdue, AsOf: testNow},
		{Status: billing.StatusPending, AsOf: testNow},
		{Month: time.February},
		{FranchiseID: "fr-other"},
	}
	for _, f := range filters {
		got, err := s.ListObligations(ctx, f)
		require.NoError(t, err)
		want := lo.Filter(all, func(o billing.Obligation, _ int) bool { return f.Matches(&o) })
		assert.Equal(t, lo.Map(want, func(o billing.Obligation, _ int) billing.ObligationID { return o.ID }),
			lo.Map(got, func(o billing.Obligation, _ int) billing.ObligationID { return o.ID }))
	}
}

func TestSeriesAndRefund(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	in := royaltyInput("u-1", time.January)
	in.Recurrence = &billing.Recurrence{Type: billing.RecurMonthly, Interval: 1}
	root, err := svc.Create(ctx, in)
	require.NoError(t, err)
	child, _, err := svc.GenerateNext(ctx, root.ID)
	require.NoError(t, err)

	_, err = svc.MarkPaid(ctx, root.ID, "card", "CH-9")
	require.NoError(t, err)
	_, reversal, err := svc.Refund(ctx, root.ID, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, "ROY-202401-0002", reversal.Number)

	series, err := svc.Series(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{root.ID, child.ID},
		lo.Map(series, func(o billing.Obligation, _ int) billing.ObligationID { return o.ID }))

	stored, err := s.GetObligation(ctx, reversal.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReversal)
	require.NotNil(t, stored.ParentID)
	assert.Equal(t, root.ID, *stored.ParentID)
	assert.True(t, stored.Total.Equal(dec("-10050")))

	found, err := s.FindByScopePeriod(ctx, billing.KindRoyalty, root.Scope(), root.PeriodStart)
	require.NoError(t, err)
	assert.Equal(t, root.ID, found.ID)

	entries, err := s.LedgerEntries(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.LedgerPayment, entries[0].Type)
	assert.Equal(t, billing.LedgerRefund, entries[1].Type)
	assert.True(t, billing.NetCollected(entries).IsZero())
}

// =============================================================================
// SEQUENCES AND LEDGER
// =============================================================================

func TestNextSequence(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.NextSequence(ctx, "ROY", 2024, time.March)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextSequence(ctx, "ROY", 2024, time.April)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	got, err = s.NextSequence(ctx, "REV", 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestLedger_IdempotencyKey(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	o, err := svc.Create(ctx, royaltyInput("u-1", time.March))
	require.NoError(t, err)

	entry := billing.LedgerEntry{
		ID:             billing.NewLedgerEntryID(),
		ObligationID:   o.ID,
		FranchiseID:    o.FranchiseID,
		Type:           billing.LedgerPayment,
		Amount:         dec("10050"),
		IdempotencyKey: "payment:" + string(o.ID),
		CreatedAt:      testNow,
	}
	require.NoError(t, s.AppendLedgerEntry(ctx, entry))

	entry.ID = billing.NewLedgerEntryID()
	assert.ErrorIs(t, s.AppendLedgerEntry(ctx, entry), billing.ErrDuplicateIdempotencyKey)

	entries, err := s.LedgerEntries(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx billing.Store) error {
		if _, err := tx.NextSequence(ctx, "ROY", 2024, time.March); err != nil {
			return err
		}
		return billing.ErrValidation
	})
	assert.ErrorIs(t, err, billing.ErrValidation)

	got, err := s.NextSequence(ctx, "ROY", 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_ScopesAndRevenue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFranchise(ctx, billing.FranchiseConfig{
		FranchiseID:     "fr-1",
		Name:            "Austin",
		FranchiseeID:    "owner-1",
		RoyaltyPct:      lo.ToPtr(dec("8")),
		MarketingPct:    lo.ToPtr(dec("2")),
		GracePeriodDays: lo.ToPtr(30),
		Active:          true,
	}))
	require.NoError(t, s.SaveFranchise(ctx, billing.FranchiseConfig{FranchiseID: "fr-solo", Name: "Solo", Active: true}))
	require.NoError(t, s.SaveFranchise(ctx, billing.FranchiseConfig{FranchiseID: "fr-closed", Name: "Closed"}))
	require.NoError(t, s.SaveUnit(ctx, billing.Unit{ID: "u-1", FranchiseID: "fr-1", Name: "Congress", Active: true}))
	require.NoError(t, s.SaveUnit(ctx, billing.Unit{ID: "u-2", FranchiseID: "fr-1", Name: "Lamar", OwnerID: "sub-2", Active: true}))
	require.NoError(t, s.SaveUnit(ctx, billing.Unit{ID: "u-3", FranchiseID: "fr-1", Name: "Closed", Active: false}))

	scopes, err := s.ActiveScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []billing.Scope{
		{FranchiseID: "fr-1", UnitID: "u-1"},
		{FranchiseID: "fr-1", UnitID: "u-2"},
		{FranchiseID: "fr-solo"},
	}, scopes)

	cfg, err := s.ScopeConfig(ctx, billing.Scope{FranchiseID: "fr-1", UnitID: "u-2"})
	require.NoError(t, err)
	assert.Equal(t, billing.PartyID("sub-2"), cfg.PartyID)
	assert.Equal(t, billing.FrequencyMonthly, cfg.Franchise.Frequency)
	require.NotNil(t, cfg.Franchise.GracePeriodDays)
	assert.Equal(t, 30, *cfg.Franchise.GracePeriodDays)
	assert.Nil(t, cfg.Franchise.TechnologyFee)

	solo, err := s.ScopeConfig(ctx, billing.Scope{FranchiseID: "fr-solo"})
	require.NoError(t, err)
	_, err = solo.Franchise.Rates()
	assert.ErrorIs(t, err, billing.ErrConfigurationMissing)

	_, err = s.ScopeConfig(ctx, billing.Scope{FranchiseID: "fr-1", UnitID: "u-9"})
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = s.ScopeConfig(ctx, billing.Scope{FranchiseID: "fr-none"})
	assert.ErrorIs(t, err, billing.ErrNotFound)

	scope := billing.Scope{FranchiseID: "fr-1", UnitID: "u-1"}
	for _, e := range []struct {
		day    time.Time
		amount string
	}{
		{billing.Date(2024, 2, 29), "1"},
		{billing.Date(2024, 3, 1), "100.10"},
		{billing.Date(2024, 3, 31), "0.20"},
		{billing.Date(2024, 4, 1), "5"},
	} {
		_, err := s.RecordRevenue(ctx, billing.RevenueEntry{Scope: scope, Day: e.day, Amount: dec(e.amount)})
		require.NoError(t, err)
	}
	_, err = s.RecordRevenue(ctx, billing.RevenueEntry{Scope: scope, Day: billing.Date(2024, 3, 2), Amount: dec("-1")})
	assert.ErrorIs(t, err, billing.ErrValidation)

	gross, err := s.GrossRevenue(ctx, scope, billing.ComputePeriod(2024, 3, billing.FrequencyMonthly))
	require.NoError(t, err)
	assert.Equal(t, "100.3", gross.String())
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func TestSweepRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run := billing.SweepRun{ID: "run-1", Year: 2024, Month: time.March, Status: "running", StartedAt: testNow}
	require.NoError(t, s.SaveSweepRun(ctx, run))

	done, err := s.IsSweepComplete(ctx, 2024, time.March)
	require.NoError(t, err)
	assert.False(t, done)

	finished := testNow.Add(time.Minute)
	run.Status, run.Created, run.CompletedAt = "completed", 3, &finished
	require.NoError(t, s.SaveSweepRun(ctx, run))
	require.NoError(t, s.SaveSweepRun(ctx, billing.SweepRun{
		ID: "run-2", Year: 2024, Month: time.April, Status: "failed", Error: "boom", StartedAt: finished,
	}))

	done, err = s.IsSweepComplete(ctx, 2024, time.March)
	require.NoError(t, err)
	assert.True(t, done)

	// A later run with failed scopes reopens the month
	retried := testNow.Add(2 * time.Minute)
	require.NoError(t, s.SaveSweepRun(ctx, billing.SweepRun{
		ID: "run-3", Year: 2024, Month: time.March, Status: "completed", Skipped: 3, Failed: 1,
		StartedAt: retried, CompletedAt: &retried,
	}))
	done, err = s.IsSweepComplete(ctx, 2024, time.March)
	require.NoError(t, err)
	assert.False(t, done)

	runs, err := s.GetSweepRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, 3, runs[2].Created)
	require.NotNil(t, runs[2].CompletedAt)

	failed, err := s.GetSweepRuns(ctx, "failed")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	svc := newService(s, testNow)
	ctx := context.Background()

	_, err := svc.Create(ctx, royaltyInput("u-1", time.March))
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	all, err := s.ListObligations(ctx, billing.ObligationFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
