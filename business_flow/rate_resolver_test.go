package businessflow

import (
	"testing"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSettings(t *testing.T) {
	shop := models.ShopSettings{MakingCharge: utils.ToPtr(450.0), MarkupPercentage: utils.ToPtr(12.0)}

	tests := []struct {
		name      string
		shop      models.ShopSettings
		overrides models.SettingsOverrides
		want      models.PricingSettings
		wantErr   bool
	}{
		{
			name: "shop values with default tax",
			shop: shop,
			want: models.PricingSettings{MakingCharge: 450, MarkupPercentage: 12, TaxPercentage: 3},
		},
		{
			name:      "override wins per field",
			shop:      shop,
			overrides: models.SettingsOverrides{MakingCharge: utils.ToPtr(500.0)},
			want:      models.PricingSettings{MakingCharge: 500, MarkupPercentage: 12, TaxPercentage: 3},
		},
		{
			name:      "tax override",
			shop:      shop,
			overrides: models.SettingsOverrides{TaxPercentage: utils.ToPtr(5.0)},
			want:      models.PricingSettings{MakingCharge: 450, MarkupPercentage: 12, TaxPercentage: 5},
		},
		{
			name:      "zero override is a value, not absence",
			shop:      shop,
			overrides: models.SettingsOverrides{MarkupPercentage: utils.ToPtr(0.0)},
			want:      models.PricingSettings{MakingCharge: 450, MarkupPercentage: 0, TaxPercentage: 3},
		},
		{
			name:      "overrides only",
			overrides: models.SettingsOverrides{MakingCharge: utils.ToPtr(500.0), MarkupPercentage: utils.ToPtr(10.0)},
			want:      models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
		},
		{
			name:    "missing markup",
			shop:    models.ShopSettings{MakingCharge: utils.ToPtr(450.0)},
			wantErr: true,
		},
		{
			name:    "nothing at all",
			wantErr: true,
		},
		{
			name:    "negative shop value",
			shop:    models.ShopSettings{MakingCharge: utils.ToPtr(-1.0), MarkupPercentage: utils.ToPtr(10.0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSettings(tt.shop, tt.overrides, models.DefaultTaxPercentage)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsSettingsUnavailable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func product(id int64, gold, silver *float64, labels ...string) models.Product {
	p := models.Product{
		ID:            id,
		Title:         "Product",
		RateOverrides: models.ProductRateOverrides{Gold: gold, Silver: silver},
	}
	for i, l := range labels {
		p.Variants = append(p.Variants, models.Variant{
			ID: id*100 + int64(i), ProductID: id, Title: l, MetalLabel: l, MetalWeight: 1,
		})
	}
	return p
}

func TestRateResolver_ResolveProduct(t *testing.T) {
	run := models.RateSet{models.MetalFamilyGold: 7000, models.MetalFamilySilver: 90}

	tests := []struct {
		name       string
		precedence RatePrecedence
		runRates   models.RateSet
		product    models.Product
		want       models.RateSet
		wantErr    bool
	}{
		{
			name:     "product override wins by default",
			runRates: run,
			product:  product(1, utils.ToPtr(7100.0), utils.ToPtr(0.0), "14K Gold"),
			want:     models.RateSet{models.MetalFamilyGold: 7100, models.MetalFamilySilver: 90},
		},
		{
			name:     "zero override falls back to run rate",
			runRates: run,
			product:  product(1, utils.ToPtr(0.0), utils.ToPtr(0.0), "14K Gold", "Silver 925"),
			want:     run,
		},
		{
			name:     "negative override is ignored",
			runRates: run,
			product:  product(1, utils.ToPtr(-5.0), utils.ToPtr(95.0), "Silver 925"),
			want:     models.RateSet{models.MetalFamilyGold: 7000, models.MetalFamilySilver: 95},
		},
		{
			name:       "run precedence prefers run rate",
			precedence: RatePrecedenceRun,
			runRates:   run,
			product:    product(1, utils.ToPtr(7100.0), utils.ToPtr(95.0), "14K Gold"),
			want:       run,
		},
		{
			name:       "run precedence falls back to product",
			precedence: RatePrecedenceRun,
			runRates:   models.RateSet{models.MetalFamilyGold: 7000},
			product:    product(1, utils.ToPtr(7100.0), utils.ToPtr(95.0), "Silver 925"),
			want:       models.RateSet{models.MetalFamilyGold: 7000, models.MetalFamilySilver: 95},
		},
		{
			name:     "missing family needed by a variant",
			runRates: models.RateSet{models.MetalFamilyGold: 7000},
			product:  product(1, utils.ToPtr(0.0), utils.ToPtr(0.0), "14K Gold", "Silver 925"),
			wantErr:  true,
		},
		{
			name:     "unparseable variants do not require a family",
			runRates: models.RateSet{models.MetalFamilyGold: 7000},
			product:  product(1, utils.ToPtr(0.0), utils.ToPtr(0.0), "14K Gold", "Silver"),
			want:     models.RateSet{models.MetalFamilyGold: 7000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRateResolver(tt.runRates, tt.precedence)
			got, err := r.ResolveProduct(tt.product)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsRateResolution(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateResolver_DoesNotAliasRunRates(t *testing.T) {
	run := models.RateSet{models.MetalFamilyGold: 7000, models.MetalFamilySilver: 90}
	r := NewRateResolver(run, "")
	run[models.MetalFamilyGold] = 1

	got, err := r.ResolveProduct(product(1, utils.ToPtr(0.0), utils.ToPtr(0.0), "18K Gold"))
	require.NoError(t, err)
	assert.Equal(t, 7000.0, got[models.MetalFamilyGold])
}
