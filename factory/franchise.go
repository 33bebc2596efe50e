/*
Package factory provides JSON to Go franchise configuration conversion.

PURPOSE:
  Converts JSON franchise definitions into billing.FranchiseConfig and
  billing.Unit values. Franchise rate sheets are maintained outside the
  engine (admin UI, seed files); the factory validates them and creates
  the Go structs the billing engine reads.

JSON SCHEMA:
  {
    "id": "fr-austin",
    "name": "Austin Downtown",
    "franchisee_id": "party-17",
    "royalty_percentage": "8",
    "marketing_fee_percentage": "2",
    "technology_fee": "50",
    "frequency": "monthly",
    "late_fee_rate": "0.05",
    "grace_period_days": 15,
    "units": [
      {"id": "u-1", "name": "Congress Ave", "active": true}
    ]
  }

  Percentages are in [0,100]. Omitted rates stay unset; the sweep reports
  such a franchise as misconfigured instead of guessing a rate.

USAGE:
  f := NewFranchiseFactory()
  cfg, units, err := f.ParseFranchise(StandardRoyaltyJSON("fr-1", "Austin", 8, 2, 50))

SEE ALSO:
  - billing/franchise.go: FranchiseConfig type definition
*/
package factory

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FranchiseJSON is the JSON representation of a franchise.
type FranchiseJSON struct {
	ID              string           `json:"id" validate:"required"`
	Name            string           `json:"name" validate:"required"`
	FranchiseeID    string           `json:"franchisee_id,omitempty"`
	RoyaltyPct      *decimal.Decimal `json:"royalty_percentage,omitempty"`
	MarketingPct    *decimal.Decimal `json:"marketing_fee_percentage,omitempty"`
	TechnologyFee   *decimal.Decimal `json:"technology_fee,omitempty"`
	Frequency       string           `json:"frequency,omitempty" validate:"omitempty,oneof=monthly quarterly"`
	LateFeeRate     *decimal.Decimal `json:"late_fee_rate,omitempty"`
	GracePeriodDays *int             `json:"grace_period_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Active          *bool            `json:"active,omitempty"`
	Units           []UnitJSON       `json:"units,omitempty" validate:"omitempty,dive"`
}

// UnitJSON represents a franchise unit.
type UnitJSON struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	OwnerID string `json:"owner_id,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// =============================================================================
// FRANCHISE FACTORY
// =============================================================================

// FranchiseFactory converts JSON franchises to Go structs.
type FranchiseFactory struct {
	validate *validator.Validate
}

// NewFranchiseFactory creates a new franchise factory.
func NewFranchiseFactory() *FranchiseFactory {
	return &FranchiseFactory{validate: validator.New()}
}

// ParseFranchise parses a JSON string into a franchise and its units.
func (f *FranchiseFactory) ParseFranchise(jsonStr string) (billing.FranchiseConfig, []billing.Unit, error) {
	var fj FranchiseJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return billing.FranchiseConfig{}, nil, &billing.ValidationError{Field: "body", Message: "invalid franchise JSON: " + err.Error()}
	}
	return f.FromJSON(fj)
}

// FromJSON validates fj and converts it.
func (f *FranchiseFactory) FromJSON(fj FranchiseJSON) (billing.FranchiseConfig, []billing.Unit, error) {
	if err := f.validate.Struct(fj); err != nil {
		return billing.FranchiseConfig{}, nil, fieldError(err)
	}
	for field, pct := range map[string]*decimal.Decimal{
		"royalty_percentage":       fj.RoyaltyPct,
		"marketing_fee_percentage": fj.MarketingPct,
	} {
		if pct != nil && (pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100))) {
			return billing.FranchiseConfig{}, nil, &billing.ValidationError{Field: field, Message: "must be within [0,100], got " + pct.String()}
		}
	}
	if fj.TechnologyFee != nil && fj.TechnologyFee.IsNegative() {
		return billing.FranchiseConfig{}, nil, &billing.ValidationError{Field: "technology_fee", Message: "must be >= 0"}
	}
	if fj.LateFeeRate != nil && (fj.LateFeeRate.IsNegative() || fj.LateFeeRate.GreaterThan(decimal.NewFromInt(1))) {
		return billing.FranchiseConfig{}, nil, &billing.ValidationError{Field: "late_fee_rate", Message: "must be within [0,1], got " + fj.LateFeeRate.String()}
	}

	cfg := billing.FranchiseConfig{
		FranchiseID:     billing.FranchiseID(fj.ID),
		Name:            fj.Name,
		FranchiseeID:    billing.PartyID(fj.FranchiseeID),
		RoyaltyPct:      fj.RoyaltyPct,
		MarketingPct:    fj.MarketingPct,
		TechnologyFee:   fj.TechnologyFee,
		Frequency:       billing.Frequency(lo.Ternary(fj.Frequency == "", string(billing.FrequencyMonthly), fj.Frequency)),
		LateFeeRate:     fj.LateFeeRate,
		GracePeriodDays: fj.GracePeriodDays,
		Active:          fj.Active == nil || *fj.Active,
	}

	seen := map[string]bool{}
	units := make([]billing.Unit, 0, len(fj.Units))
	for _, uj := range fj.Units {
		if seen[uj.ID] {
			return billing.FranchiseConfig{}, nil, &billing.ValidationError{Field: "units", Message: "duplicate unit id " + uj.ID}
		}
		seen[uj.ID] = true
		units = append(units, billing.Unit{
			ID:          billing.UnitID(uj.ID),
			FranchiseID: cfg.FranchiseID,
			Name:        uj.Name,
			OwnerID:     billing.PartyID(uj.OwnerID),
			Active:      uj.Active == nil || *uj.Active,
		})
	}
	return cfg, units, nil
}

// ToJSON converts a franchise and its units back to FranchiseJSON.
func (f *FranchiseFactory) ToJSON(cfg billing.FranchiseConfig, units []billing.Unit) FranchiseJSON {
	active := cfg.Active
	return FranchiseJSON{
		ID:              string(cfg.FranchiseID),
		Name:            cfg.Name,
		FranchiseeID:    string(cfg.FranchiseeID),
		RoyaltyPct:      cfg.RoyaltyPct,
		MarketingPct:    cfg.MarketingPct,
		TechnologyFee:   cfg.TechnologyFee,
		Frequency:       string(cfg.BillingFrequency()),
		LateFeeRate:     cfg.LateFeeRate,
		GracePeriodDays: cfg.GracePeriodDays,
		Active:          &active,
		Units: lo.Map(units, func(u billing.Unit, _ int) UnitJSON {
			a := u.Active
			return UnitJSON{ID: string(u.ID), Name: u.Name, OwnerID: string(u.OwnerID), Active: &a}
		}),
	}
}

// fieldError turns the first validator failure into a billing.ValidationError.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &billing.ValidationError{Field: fe.Namespace(), Message: "failed '" + fe.Tag() + "' check"}
	}
	return &billing.ValidationError{Field: "body", Message: err.Error()}
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardRoyaltyJSON returns a monthly franchise with the given rates and
// the default late-fee policy.
func StandardRoyaltyJSON(id, name string, royaltyPct, marketingPct, technologyFee float64) string {
	b, _ := json.Marshal(map[string]any{
		"id":                       id,
		"name":                     name,
		"royalty_percentage":       decimal.NewFromFloat(royaltyPct),
		"marketing_fee_percentage": decimal.NewFromFloat(marketingPct),
		"technology_fee":           decimal.NewFromFloat(technologyFee),
		"frequency":                "monthly",
	})
	return string(b)
}

// QuarterlyRoyaltyJSON is StandardRoyaltyJSON billed once per quarter.
func QuarterlyRoyaltyJSON(id, name string, royaltyPct, marketingPct, technologyFee float64) string {
	b, _ := json.Marshal(map[string]any{
		"id":                       id,
		"name":                     name,
		"royalty_percentage":       decimal.NewFromFloat(royaltyPct),
		"marketing_fee_percentage": decimal.NewFromFloat(marketingPct),
		"technology_fee":           decimal.NewFromFloat(technologyFee),
		"frequency":                "quarterly",
	})
	return string(b)
}
