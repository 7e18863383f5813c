package businessflow

import (
	"fmt"
	"math"

	"github.com/amirphl/metal-price-sync/models"
)

// LineItemInput is everything the pricer needs for one variant.
type LineItemInput struct {
	Weight   float64
	Rate     float64
	Purity   float64
	Stones   []models.StoneLine
	Settings models.PricingSettings
}

// RoundHalfUp rounds to the nearest whole currency unit; .5 always goes up.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// StoneCost sums carats times price per carat over all stone lines.
func StoneCost(stones []models.StoneLine) float64 {
	total := 0.0
	for _, s := range stones {
		total += s.Cost()
	}
	return total
}

func badNumber(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func validateLineItem(in LineItemInput) error {
	switch {
	case badNumber(in.Weight) || in.Weight < 0:
		return fmt.Errorf("%w: metal weight %v", ErrInvalidPricingInput, in.Weight)
	case badNumber(in.Rate) || in.Rate <= 0:
		return fmt.Errorf("%w: metal rate %v", ErrInvalidPricingInput, in.Rate)
	case badNumber(in.Purity) || in.Purity <= 0 || in.Purity > 1:
		return fmt.Errorf("%w: purity %v", ErrInvalidPricingInput, in.Purity)
	}

	s := in.Settings
	fields := []struct {
		name string
		v    float64
	}{
		{"making charge", s.MakingCharge},
		{"markup percentage", s.MarkupPercentage},
		{"tax percentage", s.TaxPercentage},
		{"laser cost", s.LaserCost},
		{"packaging cost", s.PackagingCost},
	}
	for _, f := range fields {
		if badNumber(f.v) || f.v < 0 {
			return fmt.Errorf("%w: %s %v", ErrInvalidPricingInput, f.name, f.v)
		}
	}

	for i, st := range in.Stones {
		if badNumber(st.Carats) || st.Carats < 0 || badNumber(st.PricePerCarat) || st.PricePerCarat < 0 {
			return fmt.Errorf("%w: stone line %d (%v ct at %v)", ErrInvalidPricingInput, i, st.Carats, st.PricePerCarat)
		}
	}
	return nil
}

// PriceLineItem computes the retail price of one variant. It is pure: the same
// input always yields the same breakdown.
func PriceLineItem(in LineItemInput) (models.PriceBreakdown, error) {
	if err := validateLineItem(in); err != nil {
		return models.PriceBreakdown{}, err
	}

	s := in.Settings
	metal := in.Weight * in.Rate * in.Purity
	stones := StoneCost(in.Stones)
	subtotal := metal + stones + s.MakingCharge + s.LaserCost + s.PackagingCost
	markup := subtotal * (s.MarkupPercentage / 100)
	base := subtotal + markup
	tax := base * (s.TaxPercentage / 100)

	return models.PriceBreakdown{
		MetalCost:  metal,
		StoneCost:  stones,
		Making:     s.MakingCharge,
		Subtotal:   subtotal,
		Markup:     markup,
		BasePrice:  base,
		Tax:        tax,
		FinalPrice: RoundHalfUp(base + tax),
	}, nil
}
