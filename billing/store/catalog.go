package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// CATALOG - In-memory franchise configuration and revenue
// =============================================================================

// Catalog is an in-memory ConfigProvider and RevenueProvider.
type Catalog struct {
	mu         sync.RWMutex
	franchises map[billing.FranchiseID]billing.FranchiseConfig
	units      map[billing.FranchiseID][]billing.Unit
	revenue    []billing.RevenueEntry
	failing    map[billing.Scope]error
}

func NewCatalog() *Catalog {
	return &Catalog{
		franchises: make(map[billing.FranchiseID]billing.FranchiseConfig),
		units:      make(map[billing.FranchiseID][]billing.Unit),
		failing:    make(map[billing.Scope]error),
	}
}

func (c *Catalog) PutFranchise(f billing.FranchiseConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.franchises[f.FranchiseID] = f
}

func (c *Catalog) AddUnit(u billing.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[u.FranchiseID] = append(c.units[u.FranchiseID], u)
}

func (c *Catalog) RecordRevenue(e billing.RevenueEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e.Day = billing.DateOf(e.Day)
	c.revenue = append(c.revenue, e)
	return nil
}

// FailRevenue makes GrossRevenue return err for scope. Tests use it to
// simulate an unavailable revenue source.
func (c *Catalog) FailRevenue(scope billing.Scope, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[scope] = err
}

func (c *Catalog) ActiveScopes(_ context.Context) ([]billing.Scope, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var scopes []billing.Scope
	for id, f := range c.franchises {
		if !f.Active {
			continue
		}
		units := c.units[id]
		if len(units) == 0 {
			scopes = append(scopes, billing.Scope{FranchiseID: id})
			continue
		}
		for _, u := range units {
			if u.Active {
				scopes = append(scopes, billing.Scope{FranchiseID: id, UnitID: u.ID})
			}
		}
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
	return scopes, nil
}

func (c *Catalog) ScopeConfig(_ context.Context, scope billing.Scope) (billing.ScopeConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.franchises[scope.FranchiseID]
	if !ok {
		return billing.ScopeConfig{}, billing.ErrNotFound
	}
	var unit *billing.Unit
	if scope.UnitID != "" {
		u, found := lo.Find(c.units[scope.FranchiseID], func(u billing.Unit) bool { return u.ID == scope.UnitID })
		if !found {
			return billing.ScopeConfig{}, billing.ErrNotFound
		}
		unit = &u
	}
	return billing.ScopeConfig{Scope: scope, Franchise: f, PartyID: billing.PartyFor(f, unit)}, nil
}

func (c *Catalog) GrossRevenue(_ context.Context, scope billing.Scope, period billing.Period) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err, ok := c.failing[scope]; ok {
		return decimal.Zero, err
	}
	return lo.Reduce(c.revenue, func(sum decimal.Decimal, e billing.RevenueEntry, _ int) decimal.Decimal {
		if e.Scope == scope && period.Contains(e.Day) {
			return sum.Add(e.Amount)
		}
		return sum
	}, decimal.Zero), nil
}
