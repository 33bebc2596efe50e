/*
scheduler.go - Automated billing scheduler

PURPOSE:
  Periodically runs the monthly billing sweep for the previous calendar
  month and applies late fees to overdue obligations.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps the month that just closed until a completed run bills every
    scope: failed scopes are retried on the next tick, billed scopes are
    skipped as existing
  - Late fees are applied at most once per obligation; repeated ticks are
    no-ops for records that already carry one
  - Sweep runs are recorded by the Sweeper for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBillingScheduler(svc, sweeper, store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - billing/sweep.go: Sweeper
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/franchise-billing/billing"
)

// BillingScheduler handles the automated monthly sweep and late fees.
type BillingScheduler struct {
	Service       *billing.Service
	Sweeper       *billing.Sweeper
	Runs          billing.RunStore
	Log           *zap.SugaredLogger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Year        int
	Month       time.Month
	Swept       bool
	Report      *billing.SweepReport
	LateFees    int
	SweepErr    error
	LateFeesErr error
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(svc *billing.Service, sweeper *billing.Sweeper, runs billing.RunStore, log *zap.SugaredLogger) *BillingScheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BillingScheduler{
		Service:       svc,
		Sweeper:       sweeper,
		Runs:          runs,
		Log:           log.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (bs *BillingScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.Log.Info("disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.stop = make(chan struct{})
	bs.wg.Add(1)

	go bs.run(bs.ticker, bs.stop)

	bs.Log.Infow("started", "check_interval", bs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		bs.Log.Info("stopped")
	}
}

func (bs *BillingScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer bs.wg.Done()

	// Run immediately on start
	bs.checkAndProcess(context.Background())

	for {
		select {
		case <-ticker.C:
			bs.checkAndProcess(context.Background())
		case <-stop:
			return
		}
	}
}

// previousMonth returns the calendar month before now.
func previousMonth(now time.Time) (int, time.Month) {
	first := billing.StartOfMonth(now.Year(), now.Month())
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

func (bs *BillingScheduler) checkAndProcess(ctx context.Context) TickResult {
	now := bs.Now().UTC()
	year, month := previousMonth(now)
	res := TickResult{Year: year, Month: month}

	bs.Log.Debugw("checking", "at", now, "year", year, "month", int(month))

	done := false
	if bs.Runs != nil {
		complete, err := bs.Runs.IsSweepComplete(ctx, year, month)
		if err != nil {
			bs.Log.Warnw("checking sweep status failed", "year", year, "month", int(month), "error", err)
		}
		done = complete
	}

	if !done {
		report, err := bs.Sweeper.GenerateMonthlyObligations(ctx, year, month)
		res.Report, res.SweepErr = report, err
		switch {
		case err != nil:
			bs.Log.Warnw("sweep failed", "year", year, "month", int(month), "error", err)
		default:
			res.Swept = true
			bs.Log.Infow("sweep completed",
				"year", year, "month", int(month),
				"created", report.Created(), "skipped", report.Skipped(), "failed", report.Failed())
		}
	}

	n, err := bs.Service.ApplyLateFees(ctx)
	res.LateFees, res.LateFeesErr = n, err
	if err != nil {
		bs.Log.Warnw("applying late fees failed", "error", err)
	} else if n > 0 {
		bs.Log.Infow("late fees applied", "count", n)
	}
	return res
}

// RunNow triggers an immediate pass (for testing/admin).
func (bs *BillingScheduler) RunNow(ctx context.Context) TickResult {
	return bs.checkAndProcess(ctx)
}
