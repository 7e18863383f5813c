package businessflow

import (
	"math"
	"testing"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{100.5, 101},
		{100.4, 100},
		{100.49, 100},
		{100.51, 101},
		{0, 0},
		{0.5, 1},
		{30259.838, 30260},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundHalfUp(tt.in), "RoundHalfUp(%v)", tt.in)
	}
}

func TestPriceLineItem_Golden(t *testing.T) {
	tests := []struct {
		name  string
		in    LineItemInput
		final float64
	}{
		{
			name: "14K gold with one stone",
			in: LineItemInput{
				Weight: 5, Rate: 7250.50, Purity: 0.585,
				Stones:   []models.StoneLine{{Carats: 1.0, PricePerCarat: 5000}},
				Settings: models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
			},
			final: 30260,
		},
		{
			name: "14K gold without stones",
			in: LineItemInput{
				Weight: 5, Rate: 7000, Purity: 0.585,
				Settings: models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
			},
			final: 23765,
		},
		{
			name: "silver with two stone lines",
			in: LineItemInput{
				Weight: 10, Rate: 100, Purity: 0.925,
				Stones: []models.StoneLine{
					{Type: "ruby", Carats: 0.5, PricePerCarat: 10000},
					{Type: "cz", Carats: 0.3, PricePerCarat: 5000},
				},
				Settings: models.PricingSettings{MakingCharge: 300, MarkupPercentage: 15, TaxPercentage: 3},
			},
			final: 9150,
		},
		{
			name: "exact half rounds up",
			in: LineItemInput{
				Weight: 1, Rate: 100.5, Purity: 1,
			},
			final: 101,
		},
		{
			name: "zero weight is priced, not rejected",
			in: LineItemInput{
				Weight: 0, Rate: 7000, Purity: 0.75,
				Settings: models.PricingSettings{MakingCharge: 100},
			},
			final: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := PriceLineItem(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.final, b.FinalPrice)
			assert.Equal(t, math.Trunc(b.FinalPrice), b.FinalPrice)
		})
	}
}

func TestPriceLineItem_Breakdown(t *testing.T) {
	b, err := PriceLineItem(LineItemInput{
		Weight: 5, Rate: 7250.50, Purity: 0.585,
		Stones:   []models.StoneLine{{Carats: 1.0, PricePerCarat: 5000}},
		Settings: models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
	})
	require.NoError(t, err)

	assert.InDelta(t, 21207.7125, b.MetalCost, 1e-9)
	assert.Equal(t, 5000.0, b.StoneCost)
	assert.Equal(t, 500.0, b.Making)
	assert.InDelta(t, 26707.7125, b.Subtotal, 1e-9)
	assert.InDelta(t, 2670.77125, b.Markup, 1e-9)
	assert.InDelta(t, 29378.48375, b.BasePrice, 1e-9)
	assert.InDelta(t, 881.3545125, b.Tax, 1e-9)
	assert.Equal(t, 30260.0, b.FinalPrice)
}

func TestPriceLineItem_Deterministic(t *testing.T) {
	in := LineItemInput{
		Weight: 3.37, Rate: 6891.13, Purity: 0.916,
		Stones:   []models.StoneLine{{Carats: 0.25, PricePerCarat: 41000}},
		Settings: models.PricingSettings{MakingCharge: 750, MarkupPercentage: 12.5, TaxPercentage: 3},
	}
	first, err := PriceLineItem(in)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := PriceLineItem(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPriceLineItem_InvalidInput(t *testing.T) {
	valid := func() LineItemInput {
		return LineItemInput{
			Weight: 5, Rate: 7000, Purity: 0.585,
			Settings: models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
		}
	}

	tests := []struct {
		name   string
		mutate func(*LineItemInput)
	}{
		{"negative weight", func(in *LineItemInput) { in.Weight = -1 }},
		{"NaN weight", func(in *LineItemInput) { in.Weight = math.NaN() }},
		{"zero rate", func(in *LineItemInput) { in.Rate = 0 }},
		{"negative rate", func(in *LineItemInput) { in.Rate = -7000 }},
		{"infinite rate", func(in *LineItemInput) { in.Rate = math.Inf(1) }},
		{"zero purity", func(in *LineItemInput) { in.Purity = 0 }},
		{"purity above one", func(in *LineItemInput) { in.Purity = 1.01 }},
		{"negative making", func(in *LineItemInput) { in.Settings.MakingCharge = -1 }},
		{"negative markup", func(in *LineItemInput) { in.Settings.MarkupPercentage = -5 }},
		{"negative tax", func(in *LineItemInput) { in.Settings.TaxPercentage = -3 }},
		{"negative carats", func(in *LineItemInput) {
			in.Stones = []models.StoneLine{{Carats: -0.5, PricePerCarat: 100}}
		}},
		{"negative price per carat", func(in *LineItemInput) {
			in.Stones = []models.StoneLine{{Carats: 0.5, PricePerCarat: -100}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := PriceLineItem(in)
			require.Error(t, err)
			assert.True(t, IsInvalidPricingInput(err))
		})
	}
}

func TestStoneCost_ZeroValuesContributeNothing(t *testing.T) {
	assert.Equal(t, 0.0, StoneCost(nil))
	assert.Equal(t, 0.0, StoneCost([]models.StoneLine{{Carats: 0, PricePerCarat: 5000}, {Carats: 1, PricePerCarat: 0}}))
	assert.InDelta(t, 6500.0, StoneCost([]models.StoneLine{{Carats: 0.5, PricePerCarat: 10000}, {Carats: 0.3, PricePerCarat: 5000}}), 1e-9)
}
