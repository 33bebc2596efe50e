/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	billing data for demos. Each scenario creates franchises, units and
	revenue, then drives the sweep or the lifecycle to show one feature.

AVAILABLE SCENARIOS:

	single-unit:  One franchise, one unit, March 2024 royalty sweep
	multi-unit:   Several units, one without revenue, one misconfigured franchise
	quarterly:    Quarterly franchise billed in the closing month of Q1
	lifecycle:    Paid, disputed, overdue with late fee, refunded records
	recurring:    Monthly recurring technology charge with an end date

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create franchises via factory presets
 3. Record revenue
 4. Run the sweep or lifecycle operations through billing.Service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-unit"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add to the 'loaders' map in LoadScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/franchise.go: Franchise JSON presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-unit",
		Name:        "Single Unit",
		Description: "One franchise at 8% royalty, 2% marketing, $50 technology fee, March 2024 sweep",
	},
	{
		ID:          "multi-unit",
		Name:        "Multi-Unit",
		Description: "Three units with one idle unit, plus a franchise missing its royalty rate",
	},
	{
		ID:          "quarterly",
		Name:        "Quarterly Billing",
		Description: "Quarterly franchise skipped in February and billed for Q1 in March",
	},
	{
		ID:          "lifecycle",
		Name:        "Lifecycle",
		Description: "Obligations that are paid, disputed, overdue with a late fee, and refunded",
	},
	{
		ID:          "recurring",
		Name:        "Recurring Charge",
		Description: "Monthly technology charge that recurs until its end date",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current })
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	loaders := map[string]func(context.Context) error{
		"single-unit": h.loadSingleUnitScenario,
		"multi-unit":  h.loadMultiUnitScenario,
		"quarterly":   h.loadQuarterlyScenario,
		"lifecycle":   h.loadLifecycleScenario,
		"recurring":   h.loadRecurringScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.invalidateConfigs()
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleUnitScenario(ctx context.Context) error {
	if err := h.createFranchiseFromJSON(ctx, factory.StandardRoyaltyJSON("fr-austin", "Austin Downtown", 8, 2, 50),
		billing.Unit{ID: "u-congress", Name: "Congress Ave"}); err != nil {
		return err
	}

	// $100,000 across the month: royalty 8,000, marketing 2,000, total 10,050
	scope := billing.Scope{FranchiseID: "fr-austin", UnitID: "u-congress"}
	for _, e := range []struct {
		day    int
		amount string
	}{{1, "30000"}, {12, "45000"}, {31, "25000"}} {
		if err := h.recordRevenue(ctx, scope, billing.Date(2024, time.March, e.day), e.amount); err != nil {
			return err
		}
	}

	_, err := h.Sweeper.GenerateMonthlyObligations(ctx, 2024, time.March)
	return err
}

func (h *Handler) loadMultiUnitScenario(ctx context.Context) error {
	if err := h.createFranchiseFromJSON(ctx, factory.StandardRoyaltyJSON("fr-dallas", "Dallas Metro", 6.5, 1.5, 25),
		billing.Unit{ID: "u-north", Name: "North Dallas"},
		billing.Unit{ID: "u-south", Name: "South Dallas", OwnerID: "party-sub-17"},
		billing.Unit{ID: "u-idle", Name: "Deep Ellum"},
	); err != nil {
		return err
	}
	// No royalty or marketing rate: the sweep reports it instead of guessing
	if err := h.createFranchiseFromJSON(ctx, `{"id": "fr-unrated", "name": "Unrated Franchise"}`); err != nil {
		return err
	}

	revenue := map[billing.Scope]string{
		{FranchiseID: "fr-dallas", UnitID: "u-north"}: "82000",
		{FranchiseID: "fr-dallas", UnitID: "u-south"}: "41250.50",
		{FranchiseID: "fr-unrated"}:                   "15000",
	}
	for scope, amount := range revenue {
		if err := h.recordRevenue(ctx, scope, billing.Date(2024, time.March, 15), amount); err != nil {
			return err
		}
	}

	_, err := h.Sweeper.GenerateMonthlyObligations(ctx, 2024, time.March)
	return err
}

func (h *Handler) loadQuarterlyScenario(ctx context.Context) error {
	if err := h.createFranchiseFromJSON(ctx, factory.QuarterlyRoyaltyJSON("fr-elpaso", "El Paso", 5, 1, 75)); err != nil {
		return err
	}
	scope := billing.Scope{FranchiseID: "fr-elpaso"}
	for _, m := range []time.Month{time.January, time.February, time.March} {
		if err := h.recordRevenue(ctx, scope, billing.Date(2024, m, 10), "20000"); err != nil {
			return err
		}
	}

	// February is off-cycle; March bills the whole quarter
	if _, err := h.Sweeper.GenerateMonthlyObligations(ctx, 2024, time.February); err != nil {
		return err
	}
	_, err := h.Sweeper.GenerateMonthlyObligations(ctx, 2024, time.March)
	return err
}

func (h *Handler) loadLifecycleScenario(ctx context.Context) error {
	if err := h.createFranchiseFromJSON(ctx, factory.StandardRoyaltyJSON("fr-houston", "Houston", 7, 2, 40),
		billing.Unit{ID: "u-a", Name: "Heights"},
		billing.Unit{ID: "u-b", Name: "Midtown"},
		billing.Unit{ID: "u-c", Name: "Galleria"},
		billing.Unit{ID: "u-d", Name: "Montrose"},
	); err != nil {
		return err
	}
	for _, u := range []billing.UnitID{"u-a", "u-b", "u-c", "u-d"} {
		if err := h.recordRevenue(ctx, billing.Scope{FranchiseID: "fr-houston", UnitID: u}, billing.Date(2024, time.January, 20), "50000"); err != nil {
			return err
		}
	}

	report, err := h.Sweeper.GenerateMonthlyObligations(ctx, 2024, time.January)
	if err != nil {
		return err
	}
	ids := lo.SliceToMap(report.Results, func(r billing.ScopeResult) (billing.UnitID, billing.ObligationID) {
		return r.Scope.UnitID, r.ObligationID
	})

	if _, err := h.Service.MarkPaid(ctx, ids["u-a"], "ach", "ACH-2024-0001"); err != nil {
		return errors.Wrap(err, "pay u-a")
	}
	if _, err := h.Service.Dispute(ctx, ids["u-b"], "revenue double-counted a refunded catering order"); err != nil {
		return errors.Wrap(err, "dispute u-b")
	}
	// u-c stays unpaid past its due date and picks up the late fee
	if _, _, err := h.Service.CalculateLateFee(ctx, ids["u-c"]); err != nil && !errors.Is(err, billing.ErrInvalidStateTransition) {
		return errors.Wrap(err, "late fee u-c")
	}
	if _, err := h.Service.MarkPaid(ctx, ids["u-d"], "card", "CH-88213"); err != nil {
		return errors.Wrap(err, "pay u-d")
	}
	if _, _, err := h.Service.Refund(ctx, ids["u-d"], "billed against the wrong unit"); err != nil {
		return errors.Wrap(err, "refund u-d")
	}
	return nil
}

func (h *Handler) loadRecurringScenario(ctx context.Context) error {
	if err := h.createFranchiseFromJSON(ctx, factory.StandardRoyaltyJSON("fr-sa", "San Antonio", 0, 0, 150)); err != nil {
		return err
	}

	end := billing.Date(2024, time.April, 30)
	o, err := h.Service.Create(ctx, billing.NewObligationInput{
		Kind:          billing.KindTransaction,
		FranchiseID:   "fr-sa",
		PartyID:       "fr-sa",
		Year:          2024,
		Month:         time.January,
		GrossAmount:   decimal.Zero,
		RoyaltyPct:    billing.DecimalPtr(decimal.Zero),
		MarketingPct:  billing.DecimalPtr(decimal.Zero),
		TechnologyFee: billing.DecimalPtr(decimal.NewFromInt(150)),
		Policy:        h.Policy,
		Recurrence:    &billing.Recurrence{Type: billing.RecurMonthly, Interval: 1, EndDate: &end},
		Notes:         "POS license",
		CreatedBy:     "scenario",
	})
	if err != nil {
		return err
	}

	// January through April, then the chain terminates
	for {
		next, _, err := h.Service.GenerateNext(ctx, o.ID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		o = next
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createFranchiseFromJSON(ctx context.Context, jsonStr string, units ...billing.Unit) error {
	cfg, parsed, err := h.Factory.ParseFranchise(jsonStr)
	if err != nil {
		return err
	}
	if err := h.Store.SaveFranchise(ctx, cfg); err != nil {
		return err
	}
	for _, u := range units {
		u.FranchiseID = cfg.FranchiseID
		u.Active = true
		parsed = append(parsed, u)
	}
	for _, u := range parsed {
		if err := h.Store.SaveUnit(ctx, u); err != nil {
			return err
		}
	}
	h.invalidateConfigs()
	return nil
}

func (h *Handler) recordRevenue(ctx context.Context, scope billing.Scope, day time.Time, amount string) error {
	_, err := h.Store.RecordRevenue(ctx, billing.RevenueEntry{
		Scope:  scope,
		Day:    day,
		Amount: decimal.RequireFromString(amount),
		Source: "pos",
	})
	return err
}
