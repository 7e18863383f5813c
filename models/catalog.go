package models

import (
	"fmt"
	"sort"
	"strings"
)

// StoneLine is one group of identical stones set in a variant.
type StoneLine struct {
	Type          string  `json:"type,omitempty"`
	Carats        float64 `json:"carats"`
	PricePerCarat float64 `json:"price_per_carat"`
}

// Cost returns carats times price per carat.
func (s StoneLine) Cost() float64 {
	return s.Carats * s.PricePerCarat
}

// ProductRateOverrides are the per-product rate metafields.
// Presence of both marks the product eligible; a positive value overrides the run rate.
type ProductRateOverrides struct {
	Gold   *float64 `json:"gold_rate,omitempty"`
	Silver *float64 `json:"silver_rate,omitempty"`
}

// For returns the override for a family, if present.
func (o ProductRateOverrides) For(f MetalFamily) (float64, bool) {
	var p *float64
	switch f {
	case MetalFamilyGold:
		p = o.Gold
	case MetalFamilySilver:
		p = o.Silver
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Variant is a purchasable variant with its pricing attributes already decoded.
type Variant struct {
	ID           int64       `json:"id"`
	ProductID    int64       `json:"product_id"`
	Title        string      `json:"title"`
	MetalLabel   string      `json:"metal_label"`
	MetalWeight  float64     `json:"metal_weight"`
	Stones       []StoneLine `json:"stones,omitempty"`
	CurrentPrice float64     `json:"current_price"`
	// StoneDataIssues lists the stone records the reader had to drop.
	StoneDataIssues []string `json:"stone_data_issues,omitempty"`
}

// Product is a storefront product with its variants.
type Product struct {
	ID            int64                `json:"id"`
	Handle        string               `json:"handle"`
	Title         string               `json:"title"`
	RateOverrides ProductRateOverrides `json:"rate_overrides"`
	Variants      []Variant            `json:"variants"`
}

// Eligible reports whether both rate metafields are present.
func (p Product) Eligible() bool {
	return p.RateOverrides.Gold != nil && p.RateOverrides.Silver != nil
}

// CatalogListing is the result of listing candidate products.
type CatalogListing struct {
	Products    []Product `json:"products"`
	NotEligible int       `json:"not_eligible"`
}

// MetafieldWriteError reports which metafield keys of one product failed to save.
// Keys absent from Failed were written.
type MetafieldWriteError struct {
	ProductID int64
	Failed    map[string]error
}

func (e *MetafieldWriteError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failed[k]))
	}
	return fmt.Sprintf("product %d metafields failed: %s", e.ProductID, strings.Join(parts, "; "))
}

// RateMetafieldKey is the product metafield key holding a family's rate.
func RateMetafieldKey(f MetalFamily) string {
	return string(f) + "_rate"
}
