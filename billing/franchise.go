package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BILLING POLICY - Per-franchise constants for due dates and late fees
// =============================================================================

// Policy holds the late-fee rate and grace period applied to an obligation.
type Policy struct {
	LateFeeRate     decimal.Decimal // fraction, 0.05 = 5%
	GracePeriodDays int
}

// DefaultPolicy is the built-in policy. The server passes its configured
// policy to the sweeper and handler explicitly.
var DefaultPolicy = Policy{
	LateFeeRate:     decimal.NewFromFloat(0.05),
	GracePeriodDays: 15,
}

// =============================================================================
// FRANCHISE CONFIGURATION - Read-only input to billing
// =============================================================================

// FranchiseConfig is the rate configuration of a franchise. Rate pointers are
// nil when the franchise was never configured with that rate.
type FranchiseConfig struct {
	FranchiseID     FranchiseID
	Name            string
	FranchiseeID    PartyID
	RoyaltyPct      *decimal.Decimal
	MarketingPct    *decimal.Decimal
	TechnologyFee   *decimal.Decimal
	Frequency       Frequency
	LateFeeRate     *decimal.Decimal
	GracePeriodDays *int
	Active          bool
}

// Rates returns the configured fee rates or a ConfigurationMissingError
// naming the first missing field. The technology fee defaults to zero;
// the two percentages are mandatory.
func (c FranchiseConfig) Rates() (FeeRates, error) {
	if c.RoyaltyPct == nil {
		return FeeRates{}, &ConfigurationMissingError{FranchiseID: c.FranchiseID, Field: "royalty_percentage"}
	}
	if c.MarketingPct == nil {
		return FeeRates{}, &ConfigurationMissingError{FranchiseID: c.FranchiseID, Field: "marketing_fee_percentage"}
	}
	rates := FeeRates{RoyaltyPct: *c.RoyaltyPct, MarketingPct: *c.MarketingPct, TechnologyFee: decimal.Zero}
	if c.TechnologyFee != nil {
		rates.TechnologyFee = *c.TechnologyFee
	}
	return rates, nil
}

// Policy merges franchise overrides over def.
func (c FranchiseConfig) Policy(def Policy) Policy {
	p := def
	if c.LateFeeRate != nil {
		p.LateFeeRate = *c.LateFeeRate
	}
	if c.GracePeriodDays != nil {
		p.GracePeriodDays = *c.GracePeriodDays
	}
	return p
}

// BillingFrequency returns the configured frequency, monthly by default.
func (c FranchiseConfig) BillingFrequency() Frequency {
	if c.Frequency.Valid() {
		return c.Frequency
	}
	return FrequencyMonthly
}

// ScopeConfig is the billing view of one scope: the franchise configuration
// plus the party responsible for the scope.
type ScopeConfig struct {
	Scope     Scope
	Franchise FranchiseConfig
	PartyID   PartyID
}

// =============================================================================
// PROVIDERS - External collaborators consumed by billing
// =============================================================================

// ConfigProvider supplies scopes and their rate configuration.
type ConfigProvider interface {
	// ActiveScopes returns every scope that should be billed.
	ActiveScopes(ctx context.Context) ([]Scope, error)

	// ScopeConfig returns the configuration of one scope.
	// Returns ErrNotFound if the franchise or unit doesn't exist.
	ScopeConfig(ctx context.Context, scope Scope) (ScopeConfig, error)
}

// RevenueProvider aggregates gross revenue for a scope over a period.
type RevenueProvider interface {
	GrossRevenue(ctx context.Context, scope Scope, period Period) (decimal.Decimal, error)
}

// =============================================================================
// UNITS AND REVENUE - Records behind the providers
// =============================================================================

// Unit is an operating location of a franchise.
type Unit struct {
	ID          UnitID
	FranchiseID FranchiseID
	Name        string
	OwnerID     PartyID // empty: the franchisee is billed
	Active      bool
}

// RevenueEntry is one gross sales figure reported for a scope and day.
type RevenueEntry struct {
	ID     string
	Scope  Scope
	Day    time.Time
	Amount decimal.Decimal
	Source string
}

// Validate checks a revenue entry before it is recorded.
func (e RevenueEntry) Validate() error {
	if e.Scope.FranchiseID == "" {
		return invalid("franchise_id", "is required")
	}
	if e.Day.IsZero() {
		return invalid("date", "is required")
	}
	if e.Amount.IsNegative() {
		return invalid("amount", "must be >= 0, got %s", e.Amount)
	}
	return nil
}

// PartyFor returns the party billed for a scope: the unit owner when set,
// else the franchisee, else the franchise itself.
func PartyFor(f FranchiseConfig, u *Unit) PartyID {
	if u != nil && u.OwnerID != "" {
		return u.OwnerID
	}
	if f.FranchiseeID != "" {
		return f.FranchiseeID
	}
	return PartyID(f.FranchiseID)
}
