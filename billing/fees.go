package billing

import "github.com/shopspring/decimal"

// =============================================================================
// FEE CALCULATOR
// =============================================================================

// FeeRates are the percentage and fixed fee inputs for one obligation.
type FeeRates struct {
	RoyaltyPct    decimal.Decimal
	MarketingPct  decimal.Decimal
	TechnologyFee decimal.Decimal
}

// FeeBreakdown holds unrounded component amounts.
type FeeBreakdown struct {
	Royalty    decimal.Decimal
	Marketing  decimal.Decimal
	Technology decimal.Decimal
	Total      decimal.Decimal
}

// Rounded returns the breakdown rounded once to currency precision, with the
// total re-summed from the rounded components so it always equals their sum.
func (b FeeBreakdown) Rounded() FeeBreakdown {
	r := FeeBreakdown{
		Royalty:    RoundCurrency(b.Royalty),
		Marketing:  RoundCurrency(b.Marketing),
		Technology: RoundCurrency(b.Technology),
	}
	r.Total = r.Royalty.Add(r.Marketing).Add(r.Technology)
	return r
}

// CalculateFees computes component fees from gross revenue. It never rounds;
// callers validate inputs with ValidateFeeInputs first.
func CalculateFees(gross decimal.Decimal, rates FeeRates) FeeBreakdown {
	royalty := gross.Mul(rates.RoyaltyPct).Div(hundred)
	marketing := gross.Mul(rates.MarketingPct).Div(hundred)
	return FeeBreakdown{
		Royalty:    royalty,
		Marketing:  marketing,
		Technology: rates.TechnologyFee,
		Total:      royalty.Add(marketing).Add(rates.TechnologyFee),
	}
}

// ValidateFeeInputs enforces gross >= 0, percentages in [0,100] and a
// non-negative technology fee. Values are rejected, never clamped.
func ValidateFeeInputs(gross decimal.Decimal, rates FeeRates) error {
	if gross.IsNegative() {
		return invalid("gross_amount", "must be >= 0, got %s", gross)
	}
	if err := validatePct("royalty_percentage", rates.RoyaltyPct); err != nil {
		return err
	}
	if err := validatePct("marketing_fee_percentage", rates.MarketingPct); err != nil {
		return err
	}
	if rates.TechnologyFee.IsNegative() {
		return invalid("technology_fee", "must be >= 0, got %s", rates.TechnologyFee)
	}
	return nil
}

func validatePct(field string, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return invalid(field, "must be within [0,100], got %s", pct)
	}
	return nil
}
