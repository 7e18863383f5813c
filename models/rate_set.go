package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrEmptyRateSet = errors.New("rate set is empty")

// RateSet maps a metal family to its rate per gram of pure metal.
// A run builds it once and never mutates it afterwards.
type RateSet map[MetalFamily]float64

// Validate reports the first non-positive or non-finite rate.
func (r RateSet) Validate() error {
	if len(r) == 0 {
		return ErrEmptyRateSet
	}
	for _, f := range r.Families() {
		v := r[f]
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%s rate must be positive, got %v", f, v)
		}
	}
	return nil
}

// RateFor returns the rate of a family and whether it is set.
func (r RateSet) RateFor(f MetalFamily) (float64, bool) {
	v, ok := r[f]
	return v, ok
}

// Families returns the families in the set in a stable order.
func (r RateSet) Families() []MetalFamily {
	out := make([]MetalFamily, 0, len(r))
	for f := range r {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (r RateSet) Clone() RateSet {
	out := make(RateSet, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
