package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/franchise-billing/billing"
)

func TestCalculateFees_Standard(t *testing.T) {
	// GIVEN: $100,000 gross at 8% royalty, 2% marketing, $50 technology
	rates := billing.FeeRates{RoyaltyPct: dec("8"), MarketingPct: dec("2"), TechnologyFee: dec("50")}

	// WHEN: Calculating
	fees := billing.CalculateFees(dec("100000"), rates)

	// THEN: 8,000 + 2,000 + 50
	assert.True(t, fees.Royalty.Equal(dec("8000")))
	assert.True(t, fees.Marketing.Equal(dec("2000")))
	assert.True(t, fees.Technology.Equal(dec("50")))
	assert.True(t, fees.Total.Equal(dec("10050")))
}

func TestCalculateFees_RoundsOnce(t *testing.T) {
	// 1234.567 * 8.25% = 101.851777...; 1234.567 * 1.5% = 18.518505
	rates := billing.FeeRates{RoyaltyPct: dec("8.25"), MarketingPct: dec("1.5")}

	raw := billing.CalculateFees(dec("1234.567"), rates)
	rounded := raw.Rounded()

	assert.Equal(t, "101.85", rounded.Royalty.String())
	assert.Equal(t, "18.52", rounded.Marketing.String())
	assert.Equal(t, "120.37", rounded.Total.String())
	assert.True(t, rounded.Total.Equal(rounded.Royalty.Add(rounded.Marketing).Add(rounded.Technology)))
}

func TestCalculateFees_ZeroGross(t *testing.T) {
	fees := billing.CalculateFees(dec("0"), billing.FeeRates{RoyaltyPct: dec("8"), MarketingPct: dec("2"), TechnologyFee: dec("50")})
	assert.True(t, fees.Total.Equal(dec("50")))
}

func TestValidateFeeInputs(t *testing.T) {
	ok := billing.FeeRates{RoyaltyPct: dec("8"), MarketingPct: dec("2"), TechnologyFee: dec("50")}
	assert.NoError(t, billing.ValidateFeeInputs(dec("1"), ok))
	assert.NoError(t, billing.ValidateFeeInputs(dec("1"), billing.FeeRates{RoyaltyPct: dec("100"), MarketingPct: dec("0")}))

	tests := []struct {
		name  string
		gross string
		rates billing.FeeRates
		field string
	}{
		{"negative gross", "-0.01", ok, "gross_amount"},
		{"royalty over 100", "1", billing.FeeRates{RoyaltyPct: dec("100.01"), MarketingPct: dec("2")}, "royalty_percentage"},
		{"negative marketing", "1", billing.FeeRates{RoyaltyPct: dec("8"), MarketingPct: dec("-1")}, "marketing_fee_percentage"},
		{"negative tech fee", "1", billing.FeeRates{RoyaltyPct: dec("8"), MarketingPct: dec("2"), TechnologyFee: dec("-5")}, "technology_fee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := billing.ValidateFeeInputs(dec(tt.gross), tt.rates)
			var verr *billing.ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}

func TestCalculateFees_TotalIsSumOfComponents(t *testing.T) {
	grosses := []string{"0", "0.01", "1234.567", "99999.99", "1000000"}
	royalties := []string{"0", "5", "8.25", "12.5"}
	marketings := []string{"0", "1.5", "3"}
	techs := []string{"0", "49.99", "150"}

	for _, g := range grosses {
		for _, r := range royalties {
			for _, m := range marketings {
				for _, tf := range techs {
					rates := billing.FeeRates{RoyaltyPct: dec(r), MarketingPct: dec(m), TechnologyFee: dec(tf)}
					raw := billing.CalculateFees(dec(g), rates)
					rounded := raw.Rounded()
					label := g + "/" + r + "/" + m + "/" + tf

					assert.True(t, raw.Total.Equal(raw.Royalty.Add(raw.Marketing).Add(raw.Technology)), label)
					assert.True(t, rounded.Total.Equal(rounded.Royalty.Add(rounded.Marketing).Add(rounded.Technology)), label)
					for _, c := range []decimal.Decimal{rounded.Royalty, rounded.Marketing, rounded.Total} {
						assert.True(t, c.Equal(c.Round(2)), label)
					}
					assert.False(t, rounded.Total.IsNegative(), label)
				}
			}
		}
	}
}
