package models

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurityOf(t *testing.T) {
	tests := []struct {
		metal  MetalType
		purity float64
		family MetalFamily
	}{
		{MetalGold24K, 1.000, MetalFamilyGold},
		{MetalGold22K, 0.916, MetalFamilyGold},
		{MetalGold18K, 0.750, MetalFamilyGold},
		{MetalGold14K, 0.585, MetalFamilyGold},
		{MetalGold10K, 0.417, MetalFamilyGold},
		{MetalGold9K, 0.375, MetalFamilyGold},
		{MetalSilver925, 0.925, MetalFamilySilver},
	}

	for _, tt := range tests {
		t.Run(string(tt.metal), func(t *testing.T) {
			p, err := PurityOf(tt.metal)
			require.NoError(t, err)
			assert.Equal(t, tt.purity, p)

			f, err := FamilyOf(tt.metal)
			require.NoError(t, err)
			assert.Equal(t, tt.family, f)
		})
	}
}

func TestPurityOf_Unknown(t *testing.T) {
	_, err := PurityOf("Platinum 950")
	assert.ErrorIs(t, err, ErrUnknownMetalType)

	_, err = FamilyOf("")
	assert.ErrorIs(t, err, ErrUnknownMetalType)
}

func TestPurityTableInvariants(t *testing.T) {
	seen := map[MetalType]bool{}
	for _, m := range SupportedMetalTypes() {
		assert.False(t, seen[m], "duplicate label %s", m)
		seen[m] = true
		p, err := PurityOf(m)
		require.NoError(t, err)
		assert.Greater(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Len(t, seen, 7)
}

func TestRateSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		rates   RateSet
		wantErr bool
	}{
		{name: "valid", rates: RateSet{MetalFamilyGold: 7250.5, MetalFamilySilver: 95}},
		{name: "gold only", rates: RateSet{MetalFamilyGold: 7000}},
		{name: "empty", rates: RateSet{}, wantErr: true},
		{name: "nil", rates: nil, wantErr: true},
		{name: "zero gold", rates: RateSet{MetalFamilyGold: 0, MetalFamilySilver: 95}, wantErr: true},
		{name: "negative silver", rates: RateSet{MetalFamilyGold: 1, MetalFamilySilver: -1}, wantErr: true},
		{name: "nan", rates: RateSet{MetalFamilyGold: math.NaN()}, wantErr: true},
		{name: "inf", rates: RateSet{MetalFamilyGold: math.Inf(1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rates.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateSetClone(t *testing.T) {
	orig := RateSet{MetalFamilyGold: 10}
	c := orig.Clone()
	c[MetalFamilyGold] = 20
	assert.Equal(t, 10.0, orig[MetalFamilyGold])
	assert.Equal(t, []MetalFamily{MetalFamilyGold}, orig.Families())
}

func TestProductEligible(t *testing.T) {
	v := 1.0
	assert.True(t, Product{RateOverrides: ProductRateOverrides{Gold: &v, Silver: &v}}.Eligible())
	assert.False(t, Product{RateOverrides: ProductRateOverrides{Gold: &v}}.Eligible())
	assert.False(t, Product{}.Eligible())

	got, ok := ProductRateOverrides{Silver: &v}.For(MetalFamilySilver)
	assert.True(t, ok)
	assert.Equal(t, 1.0, got)
	_, ok = ProductRateOverrides{Silver: &v}.For(MetalFamilyGold)
	assert.False(t, ok)
}

func TestRunReportOutcome(t *testing.T) {
	r := &RunReport{}
	assert.Equal(t, RunOutcomeSuccess, r.Outcome())

	r.Counters.VariantsSkipped = 3
	assert.Equal(t, RunOutcomeSuccess, r.Outcome())

	r.Counters.MetafieldsFailed = 1
	assert.Equal(t, RunOutcomeCompletedWithErrors, r.Outcome())

	r.Aborted = true
	assert.Equal(t, RunOutcomeAborted, r.Outcome())
}

func TestRunReportSummary(t *testing.T) {
	tests := []struct {
		name     string
		counters RunCounters
		aborted  bool
		want     string
	}{
		{
			name:     "clean run",
			counters: RunCounters{ProductsProcessed: 2, VariantsUpdated: 3, VariantsSkipped: 1},
			want:     "SUCCESS: 2 products, 3 variants updated, 1 skipped, 0 failed",
		},
		{
			name:     "every product failed resolution",
			counters: RunCounters{ProductsProcessed: 2, ProductsFailed: 2},
			want:     "SUCCESS: 2 products, 0 variants updated, 0 skipped, 0 failed, 2 products failed rate resolution",
		},
		{
			name:     "metafield failures",
			counters: RunCounters{ProductsProcessed: 1, VariantsUpdated: 1, MetafieldsFailed: 2},
			want:     "COMPLETED_WITH_ERRORS: 1 products, 1 variants updated, 0 skipped, 0 failed, 2 metafield writes failed",
		},
		{
			name:    "aborted",
			aborted: true,
			want:    "ABORTED: 0 products, 0 variants updated, 0 skipped, 0 failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RunReport{Counters: tt.counters, Aborted: tt.aborted}
			assert.Equal(t, tt.want, r.Summary())
		})
	}
}

func TestNewPriceRunFromReport(t *testing.T) {
	r := &RunReport{
		RunID:    uuid.New(),
		Trigger:  "cli",
		Currency: "INR",
		DryRun:   true,
		Counters: RunCounters{ProductsProcessed: 2, VariantsUpdated: 3, VariantsFailed: 1},
		Errors:   []string{"variant 9: write failed"},
	}
	row := NewPriceRunFromReport(r)
	assert.Equal(t, r.RunID, row.RunID)
	assert.Equal(t, string(RunOutcomeCompletedWithErrors), row.Outcome)
	assert.Equal(t, 3, row.VariantsUpdated)
	assert.True(t, row.DryRun)

	row.Errors[0] = "changed"
	assert.Equal(t, "variant 9: write failed", r.Errors[0])
}
