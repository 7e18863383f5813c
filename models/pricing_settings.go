package models

// DefaultTaxPercentage is the GST applied to jewelry when no override is configured.
const DefaultTaxPercentage = 3.0

// PricingSettings is the resolved, immutable pricing configuration of one run.
type PricingSettings struct {
	MakingCharge     float64 `json:"making_charge"`
	MarkupPercentage float64 `json:"markup_percentage"`
	TaxPercentage    float64 `json:"tax_percentage"`
	// LaserCost and PackagingCost are part of the subtotal and are zero today.
	LaserCost     float64 `json:"laser_cost"`
	PackagingCost float64 `json:"packaging_cost"`
}

// ShopSettings holds the persisted shop-wide values read from the storefront.
// A nil field means the storefront does not define it.
type ShopSettings struct {
	MakingCharge     *float64 `json:"making_charge,omitempty"`
	MarkupPercentage *float64 `json:"markup_percentage,omitempty"`
}

// Complete reports whether every value needed for pricing is defined.
func (s ShopSettings) Complete() bool {
	return s.MakingCharge != nil && s.MarkupPercentage != nil
}

// SettingsOverrides are operator-supplied values for a single run.
type SettingsOverrides struct {
	MakingCharge     *float64 `json:"making_charge,omitempty"`
	MarkupPercentage *float64 `json:"markup_percentage,omitempty"`
	TaxPercentage    *float64 `json:"tax_percentage,omitempty"`
}

// SettingsPush is what gets written to the storefront's shop-wide settings.
type SettingsPush struct {
	MakingCharge     float64 `json:"making_charge"`
	MarkupPercentage float64 `json:"markup_percentage"`
	Rates            RateSet `json:"rates"`
}
