/*
sweep.go - Monthly batch generation of royalty obligations

PURPOSE:
  Creates one royalty obligation per active scope for a billing month.
  Running the sweep twice for the same month creates nothing the second
  time; a failing scope is reported and never blocks the others.

FLOW:
  lock(year, month) ──▶ ActiveScopes ──▶ pool of workers, one scope each:

    ScopeConfig ──▶ off-cycle? ──▶ existing? ──▶ Rates ──▶ GrossRevenue
         │              │             │           │            │
       failed     skipped_off     skipped_     failed      zero: skipped_
                    _cycle        existing                  no_revenue
                                                               │
                                              createIfAbsent (one tx) ──▶ created

QUARTERLY FRANCHISES:
  Billed only in the month that closes a quarter, for the whole quarter.
  A March sweep bills Q1 for quarterly scopes and March for monthly ones.

SEE ALSO:
  - service.go: createIfAbsent
  - franchise.go: ConfigProvider, RevenueProvider
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// ScopeOutcome is the result of one scope in a sweep.
type ScopeOutcome string

const (
	OutcomeCreated          ScopeOutcome = "created"
	OutcomeSkippedExisting  ScopeOutcome = "skipped_existing"
	OutcomeSkippedNoRevenue ScopeOutcome = "skipped_no_revenue"
	OutcomeSkippedOffCycle  ScopeOutcome = "skipped_off_cycle"
	OutcomeFailed           ScopeOutcome = "failed"
)

type ScopeResult struct {
	Scope        Scope
	Outcome      ScopeOutcome
	ObligationID ObligationID
	Number       string
	Total        decimal.Decimal
	Err          error
}

// SweepReport lists every scope of a sweep, sorted by scope.
type SweepReport struct {
	RunID   string
	Year    int
	Month   time.Month
	Results []ScopeResult
}

func (r SweepReport) count(match func(ScopeOutcome) bool) int {
	n := 0
	for _, res := range r.Results {
		if match(res.Outcome) {
			n++
		}
	}
	return n
}

func (r SweepReport) Created() int {
	return r.count(func(o ScopeOutcome) bool { return o == OutcomeCreated })
}

func (r SweepReport) Failed() int {
	return r.count(func(o ScopeOutcome) bool { return o == OutcomeFailed })
}

func (r SweepReport) Skipped() int {
	return len(r.Results) - r.Created() - r.Failed()
}

// Failures returns the failed scopes.
func (r SweepReport) Failures() []ScopeResult {
	var out []ScopeResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Sweeper generates monthly obligations for every active scope.
type Sweeper struct {
	Service *Service
	Config  ConfigProvider
	Revenue RevenueProvider
	Runs    RunStore // optional
	Locker  Locker
	Policy  Policy
	Workers int
	LockTTL time.Duration
}

// NewSweeper wires a sweeper with a single-node locker and the default policy.
func NewSweeper(svc *Service, cfg ConfigProvider, rev RevenueProvider) *Sweeper {
	return &Sweeper{
		Service: svc,
		Config:  cfg,
		Revenue: rev,
		Locker:  NopLocker{},
		Policy:  DefaultPolicy,
		Workers: 4,
		LockTTL: 10 * time.Minute,
	}
}

// LockKey is the lock name of a sweep month.
func LockKey(year int, month time.Month) string {
	return fmt.Sprintf("billing:sweep:%04d-%02d", year, int(month))
}

// GenerateMonthlyObligations bills every active scope for (year, month).
//
// The returned error is non-nil only when the sweep could not run at all:
// invalid month, lock held elsewhere, or scopes unavailable. Per-scope
// failures are in the report.
func (s *Sweeper) GenerateMonthlyObligations(ctx context.Context, year int, month time.Month) (*SweepReport, error) {
	if month < time.January || month > time.December {
		return nil, invalid("month", "must be 1..12, got %d", int(month))
	}
	if year < 1900 || year > 9999 {
		return nil, invalid("year", "must be a four-digit year, got %d", year)
	}

	locker := s.Locker
	if locker == nil {
		locker = NopLocker{}
	}
	lock, err := locker.Obtain(ctx, LockKey(year, month), s.lockTTL())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.Service.Log.Warnw("release sweep lock", "year", year, "month", int(month), "error", err)
		}
	}()

	run := SweepRun{ID: "run_" + uuid.NewString(), Year: year, Month: month, Status: "running", StartedAt: s.Service.now()}
	s.saveRun(ctx, run)

	report, err := s.sweep(ctx, year, month)
	done := s.Service.now()
	run.CompletedAt = &done
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		s.saveRun(ctx, run)
		return nil, err
	}
	report.RunID = run.ID
	run.Status = "completed"
	run.Created, run.Skipped, run.Failed = report.Created(), report.Skipped(), report.Failed()
	s.saveRun(ctx, run)

	s.Service.Log.Infow("billing sweep completed",
		"year", year, "month", int(month),
		"created", run.Created, "skipped", run.Skipped, "failed", run.Failed)
	return report, nil
}

func (s *Sweeper) sweep(ctx context.Context, year int, month time.Month) (*SweepReport, error) {
	scopes, err := s.Config.ActiveScopes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active scopes")
	}

	results := make([]ScopeResult, len(scopes))
	p := pool.New().WithMaxGoroutines(s.workers())
	for i, scope := range scopes {
		i, scope := i, scope
		p.Go(func() {
			results[i] = s.processScope(ctx, scope, year, month)
		})
	}
	p.Wait()

	sort.Slice(results, func(a, b int) bool {
		return results[a].Scope.String() < results[b].Scope.String()
	})
	return &SweepReport{Year: year, Month: month, Results: results}, nil
}

func (s *Sweeper) processScope(ctx context.Context, scope Scope, year int, month time.Month) ScopeResult {
	res := ScopeResult{Scope: scope}
	fail := func(err error) ScopeResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		s.Service.Log.Warnw("sweep scope failed",
			"franchise_id", scope.FranchiseID, "unit_id", scope.UnitID,
			"year", year, "month", int(month), "error", err)
		return res
	}

	cfg, err := s.Config.ScopeConfig(ctx, scope)
	if err != nil {
		return fail(err)
	}

	freq := cfg.Franchise.BillingFrequency()
	index := int(month)
	if freq == FrequencyQuarterly {
		if !IsQuarterEnd(month) {
			res.Outcome = OutcomeSkippedOffCycle
			return res
		}
		index = QuarterOf(month)
	}
	period := ComputePeriod(year, index, freq)

	existing, err := s.Service.Store.FindByScopePeriod(ctx, KindRoyalty, scope, period.Start)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		return skippedExisting(res, existing)
	}

	rates, err := cfg.Franchise.Rates()
	if err != nil {
		return fail(err)
	}
	gross, err := s.Revenue.GrossRevenue(ctx, scope, period)
	if err != nil {
		return fail(errors.Wrapf(err, "gross revenue for %s", scope))
	}
	if !gross.IsPositive() {
		res.Outcome = OutcomeSkippedNoRevenue
		return res
	}

	in := NewObligationInput{
		Kind:          KindRoyalty,
		FranchiseID:   scope.FranchiseID,
		UnitID:        scope.UnitID,
		PartyID:       cfg.PartyID,
		PartyType:     PartyFranchisee,
		Frequency:     freq,
		Year:          year,
		Month:         month,
		Quarter:       QuarterOf(month),
		GrossAmount:   gross,
		RoyaltyPct:    &rates.RoyaltyPct,
		MarketingPct:  &rates.MarketingPct,
		TechnologyFee: &rates.TechnologyFee,
		Policy:        cfg.Franchise.Policy(s.Policy),
		CreatedBy:     "system",
		AutoGenerated: true,
	}
	o, err := NewObligation(in, s.Service.now())
	if err != nil {
		return fail(err)
	}
	saved, created, err := s.Service.createIfAbsent(ctx, o)
	if err != nil {
		return fail(err)
	}
	if !created {
		return skippedExisting(res, saved)
	}
	res.Outcome = OutcomeCreated
	res.ObligationID = saved.ID
	res.Number = saved.Number
	res.Total = saved.Total
	return res
}

func skippedExisting(res ScopeResult, existing *Obligation) ScopeResult {
	res.Outcome = OutcomeSkippedExisting
	if existing != nil {
		res.ObligationID = existing.ID
		res.Number = existing.Number
		res.Total = existing.Total
	}
	return res
}

func (s *Sweeper) saveRun(ctx context.Context, run SweepRun) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.SaveSweepRun(ctx, run); err != nil {
		s.Service.Log.Warnw("save sweep run", "run_id", run.ID, "error", err)
	}
}

func (s *Sweeper) workers() int {
	if s.Workers < 1 {
		return 1
	}
	return s.Workers
}

func (s *Sweeper) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return s.LockTTL
}
