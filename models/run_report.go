package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunOutcome summarizes a finalized run for the reporting layer.
type RunOutcome string

const (
	RunOutcomeSuccess             RunOutcome = "success"
	RunOutcomeCompletedWithErrors RunOutcome = "completed_with_errors"
	RunOutcomeAborted             RunOutcome = "aborted"
)

// DetailStatus is the terminal bucket of one detail entry.
type DetailStatus string

const (
	DetailStatusUpdated     DetailStatus = "updated"
	DetailStatusSkipped     DetailStatus = "skipped"
	DetailStatusFailed      DetailStatus = "failed"
	DetailStatusProcessed   DetailStatus = "processed"
	DetailStatusMetafield   DetailStatus = "metafield_updated"
	DetailStatusMetafieldKO DetailStatus = "metafield_failed"
)

// DetailScope tells which entity a detail entry is about.
type DetailScope string

const (
	DetailScopeProduct   DetailScope = "product"
	DetailScopeVariant   DetailScope = "variant"
	DetailScopeMetafield DetailScope = "metafield"
)

// PriceBreakdown is every intermediate of the line-item formula.
type PriceBreakdown struct {
	MetalCost  float64 `json:"metal_cost"`
	StoneCost  float64 `json:"stone_cost"`
	Making     float64 `json:"making_charge"`
	Subtotal   float64 `json:"subtotal"`
	Markup     float64 `json:"markup"`
	BasePrice  float64 `json:"base_price"`
	Tax        float64 `json:"tax"`
	FinalPrice float64 `json:"final_price"`
}

// RunDetail is one append-only entry of the per-entity detail log.
type RunDetail struct {
	Scope        DetailScope     `json:"scope"`
	Status       DetailStatus    `json:"status"`
	ProductID    int64           `json:"product_id"`
	ProductTitle string          `json:"product_title,omitempty"`
	VariantID    int64           `json:"variant_id,omitempty"`
	VariantTitle string          `json:"variant_title,omitempty"`
	MetalType    MetalType       `json:"metal_type,omitempty"`
	Key          string          `json:"key,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	OldPrice     float64         `json:"old_price,omitempty"`
	NewPrice     float64         `json:"new_price,omitempty"`
	Breakdown    *PriceBreakdown `json:"breakdown,omitempty"`
}

// RunCounters are the monotonically increasing counts of a run.
type RunCounters struct {
	ProductsProcessed   int `json:"products_processed"`
	ProductsFailed      int `json:"products_failed"`
	ProductsNotEligible int `json:"products_not_eligible"`
	VariantsUpdated     int `json:"variants_updated"`
	VariantsSkipped     int `json:"variants_skipped"`
	VariantsFailed      int `json:"variants_failed"`
	MetafieldsUpdated   int `json:"metafields_updated"`
	MetafieldsFailed    int `json:"metafields_failed"`
}

// RunReport is the aggregate outcome of one run.
// Only the price sync flow mutates it, and only until it is finalized.
type RunReport struct {
	RunID          uuid.UUID       `json:"run_id"`
	Trigger        string          `json:"trigger"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	DryRun         bool            `json:"dry_run"`
	SkipMetafields bool            `json:"skip_metafields"`
	Currency       string          `json:"currency"`
	Rates          RateSet         `json:"rates,omitempty"`
	Settings       PricingSettings `json:"settings"`
	Counters       RunCounters     `json:"statistics"`
	Errors         []string        `json:"errors"`
	Notes          []string        `json:"notes"`
	Details        []RunDetail     `json:"details"`
	Aborted        bool            `json:"aborted"`
	Finalized      bool            `json:"finalized"`
}

// Outcome classifies the run for notification and exit status.
func (r *RunReport) Outcome() RunOutcome {
	if r.Aborted {
		return RunOutcomeAborted
	}
	if r.Counters.VariantsFailed+r.Counters.MetafieldsFailed > 0 {
		return RunOutcomeCompletedWithErrors
	}
	return RunOutcomeSuccess
}

// Summary is the one-line account of a run shown to operators. Product
// failures are listed even though they leave the outcome untouched.
func (r *RunReport) Summary() string {
	c := r.Counters
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d products, %d variants updated, %d skipped, %d failed",
		strings.ToUpper(string(r.Outcome())), c.ProductsProcessed, c.VariantsUpdated, c.VariantsSkipped, c.VariantsFailed)
	if c.MetafieldsFailed > 0 {
		fmt.Fprintf(&b, ", %d metafield writes failed", c.MetafieldsFailed)
	}
	if c.ProductsFailed > 0 {
		fmt.Fprintf(&b, ", %d products failed rate resolution", c.ProductsFailed)
	}
	return b.String()
}

// Duration returns the wall time of a finalized run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
