package businessflow

import (
	"fmt"
	"math"

	"github.com/amirphl/metal-price-sync/models"
)

// RatePrecedence decides whether product metafields or the run rate win.
type RatePrecedence string

const (
	RatePrecedenceProduct RatePrecedence = "product"
	RatePrecedenceRun     RatePrecedence = "run"
)

// ResolveSettings merges per-run overrides over the shop's persisted settings.
// Tax never comes from the storefront: it is the override or defaultTax.
func ResolveSettings(shop models.ShopSettings, overrides models.SettingsOverrides, defaultTax float64) (models.PricingSettings, error) {
	making := pickSetting(overrides.MakingCharge, shop.MakingCharge)
	markup := pickSetting(overrides.MarkupPercentage, shop.MarkupPercentage)

	var missing []string
	if making == nil {
		missing = append(missing, "making charge")
	}
	if markup == nil {
		missing = append(missing, "markup percentage")
	}
	if len(missing) > 0 {
		return models.PricingSettings{}, fmt.Errorf("%w: no override or shop value for %v", ErrSettingsUnavailable, missing)
	}

	tax := defaultTax
	if overrides.TaxPercentage != nil {
		tax = *overrides.TaxPercentage
	}

	out := models.PricingSettings{
		MakingCharge:     *making,
		MarkupPercentage: *markup,
		TaxPercentage:    tax,
	}
	if out.MakingCharge < 0 || out.MarkupPercentage < 0 || out.TaxPercentage < 0 ||
		math.IsNaN(out.MakingCharge+out.MarkupPercentage+out.TaxPercentage) {
		return models.PricingSettings{}, fmt.Errorf("%w: negative or invalid value in %+v", ErrSettingsUnavailable, out)
	}
	return out, nil
}

func pickSetting(override, persisted *float64) *float64 {
	if override != nil {
		return override
	}
	return persisted
}

// RateResolver picks the effective rate per product. It holds only immutable run state.
type RateResolver struct {
	runRates   models.RateSet
	precedence RatePrecedence
}

func NewRateResolver(runRates models.RateSet, precedence RatePrecedence) *RateResolver {
	if precedence == "" {
		precedence = RatePrecedenceProduct
	}
	return &RateResolver{runRates: runRates.Clone(), precedence: precedence}
}

// ResolveProduct returns the effective rates for every metal family the
// product's variants need. Families whose variants cannot be parsed are not
// required here; those variants get skipped later.
func (r *RateResolver) ResolveProduct(p models.Product) (models.RateSet, error) {
	effective := models.RateSet{}
	for _, f := range []models.MetalFamily{models.MetalFamilyGold, models.MetalFamilySilver} {
		if v, ok := r.rateFor(p, f); ok {
			effective[f] = v
		}
	}

	for _, f := range requiredFamilies(p) {
		if _, ok := effective[f]; !ok {
			return nil, fmt.Errorf("%w: product %d has %s variants but no %s rate", ErrRateResolution, p.ID, f, f)
		}
	}
	return effective, nil
}

func (r *RateResolver) rateFor(p models.Product, f models.MetalFamily) (float64, bool) {
	productRate, hasProduct := p.RateOverrides.For(f)
	hasProduct = hasProduct && productRate > 0 && !math.IsInf(productRate, 0)
	runRate, hasRun := r.runRates.RateFor(f)
	hasRun = hasRun && runRate > 0

	if r.precedence == RatePrecedenceRun {
		if hasRun {
			return runRate, true
		}
		if hasProduct {
			return productRate, true
		}
		return 0, false
	}

	if hasProduct {
		return productRate, true
	}
	if hasRun {
		return runRate, true
	}
	return 0, false
}

func requiredFamilies(p models.Product) []models.MetalFamily {
	seen := map[models.MetalFamily]bool{}
	var out []models.MetalFamily
	for _, v := range p.Variants {
		mt, err := ParseMetalLabel(v.MetalLabel)
		if err != nil {
			continue
		}
		f, err := models.FamilyOf(mt)
		if err != nil || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
