package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/factory"
)

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		now   time.Time
		year  int
		month time.Month
	}{
		{time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC), 2024, time.March},
		{time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 2023, time.December},
		{time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC), 2024, time.February},
	}
	for _, tt := range tests {
		year, month := previousMonth(tt.now)
		assert.Equal(t, tt.year, year)
		assert.Equal(t, tt.month, month)
	}
}

func TestScheduler_SweepsPreviousMonthOnce(t *testing.T) {
	// GIVEN: March revenue and a clock past the April 15 due date
	env := setupTestHandler(t)
	env.seedFranchise()
	env.now = time.Date(2024, time.April, 20, 6, 0, 0, 0, time.UTC)

	sched := NewBillingScheduler(env.handler.Service, env.handler.Sweeper, env.store, nil)
	sched.Now = func() time.Time { return env.now }
	ctx := context.Background()

	// WHEN: Running a pass
	first := sched.RunNow(ctx)

	// THEN: March is billed and the new record, already overdue, gets its late fee
	require.NoError(t, first.SweepErr)
	require.NoError(t, first.LateFeesErr)
	assert.True(t, first.Swept)
	assert.Equal(t, 2024, first.Year)
	assert.Equal(t, time.March, first.Month)
	assert.Equal(t, 1, first.Report.Created())
	assert.Equal(t, 1, first.LateFees)

	// WHEN: Running again
	second := sched.RunNow(ctx)

	// THEN: The completed sweep is not repeated and no second fee is charged
	assert.False(t, second.Swept)
	assert.Equal(t, 0, second.LateFees)

	list, err := env.handler.Service.List(ctx, billing.ObligationFilter{FranchiseID: "fr-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "502.50", list[0].LateFee.StringFixed(2))
}

func TestScheduler_RetriesFailedScopes(t *testing.T) {
	// GIVEN: fr-1 is billable, fr-2 has revenue but no rates yet
	env := setupTestHandler(t)
	env.seedFranchise()
	rec := env.do("POST", "/api/franchises", `{"id": "fr-2", "name": "Unrated"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do("POST", "/api/revenue", `{"franchise_id": "fr-2", "date": "2024-03-05", "amount": "20000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sched := NewBillingScheduler(env.handler.Service, env.handler.Sweeper, env.store, nil)
	sched.Now = func() time.Time { return env.now }
	ctx := context.Background()

	// WHEN: The first passes run
	first := sched.RunNow(ctx)
	second := sched.RunNow(ctx)

	// THEN: The failed scope keeps March open
	require.NoError(t, first.SweepErr)
	assert.Equal(t, 1, first.Report.Created())
	assert.Equal(t, 1, first.Report.Failed())
	require.True(t, second.Swept)
	assert.Equal(t, 0, second.Report.Created())
	assert.Equal(t, 1, second.Report.Failed())

	// WHEN: fr-2 is configured
	rec = env.do("POST", "/api/franchises", factory.StandardRoyaltyJSON("fr-2", "Unrated", 5, 1, 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	third := sched.RunNow(ctx)
	fourth := sched.RunNow(ctx)

	// THEN: Only fr-2 is billed and March closes
	require.True(t, third.Swept)
	assert.Equal(t, 1, third.Report.Created())
	assert.Equal(t, 0, third.Report.Failed())
	assert.False(t, fourth.Swept)
}

func TestScheduler_StartStop(t *testing.T) {
	env := setupTestHandler(t)
	sched := NewBillingScheduler(env.handler.Service, env.handler.Sweeper, env.store, nil)
	sched.CheckInterval = time.Hour

	sched.Start()
	sched.Start() // no second loop
	sched.Stop()
	sched.Stop()

	disabled := NewBillingScheduler(env.handler.Service, env.handler.Sweeper, env.store, nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
