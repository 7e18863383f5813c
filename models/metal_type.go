package models

import (
	"errors"
	"fmt"
	"sort"
)

// MetalType is the canonical key of a supported metal alloy.
type MetalType string

const (
	MetalGold24K   MetalType = "24K Gold"
	MetalGold22K   MetalType = "22K Gold"
	MetalGold18K   MetalType = "18K Gold"
	MetalGold14K   MetalType = "14K Gold"
	MetalGold10K   MetalType = "10K Gold"
	MetalGold9K    MetalType = "9K Gold"
	MetalSilver925 MetalType = "Silver 925"
)

// MetalFamily selects which rate of a RateSet prices an alloy.
type MetalFamily string

const (
	MetalFamilyGold   MetalFamily = "gold"
	MetalFamilySilver MetalFamily = "silver"
)

var ErrUnknownMetalType = errors.New("unknown metal type")

type purityEntry struct {
	purity float64
	family MetalFamily
}

// purityTable is the only source of purity fractions. Adding a metal is an edit here.
var purityTable = map[MetalType]purityEntry{
	MetalGold24K:   {purity: 1.000, family: MetalFamilyGold},
	MetalGold22K:   {purity: 0.916, family: MetalFamilyGold},
	MetalGold18K:   {purity: 0.750, family: MetalFamilyGold},
	MetalGold14K:   {purity: 0.585, family: MetalFamilyGold},
	MetalGold10K:   {purity: 0.417, family: MetalFamilyGold},
	MetalGold9K:    {purity: 0.375, family: MetalFamilyGold},
	MetalSilver925: {purity: 0.925, family: MetalFamilySilver},
}

// goldByKarat maps a karat number to its gold MetalType.
var goldByKarat = map[int]MetalType{
	24: MetalGold24K,
	22: MetalGold22K,
	18: MetalGold18K,
	14: MetalGold14K,
	10: MetalGold10K,
	9:  MetalGold9K,
}

// PurityOf returns the purity fraction of a metal type.
func PurityOf(m MetalType) (float64, error) {
	e, ok := purityTable[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetalType, string(m))
	}
	return e.purity, nil
}

// FamilyOf returns the rate family of a metal type.
func FamilyOf(m MetalType) (MetalFamily, error) {
	e, ok := purityTable[m]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetalType, string(m))
	}
	return e.family, nil
}

// GoldByKarat returns the gold alloy for a karat number, if supported.
func GoldByKarat(karat int) (MetalType, bool) {
	m, ok := goldByKarat[karat]
	return m, ok
}

// SupportedMetalTypes lists the table keys in a stable order.
func SupportedMetalTypes() []MetalType {
	out := make([]MetalType, 0, len(purityTable))
	for m := range purityTable {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
