// Package models contains domain entities for the jewelry price sync service
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PriceRun is the audit row of one finalized run. Rates are deliberately absent.
// Table: price_runs
type PriceRun struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	RunID               uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_price_runs_run_id" json:"run_id"`
	Trigger             string         `gorm:"size:32;not null;index:idx_price_runs_trigger" json:"trigger"`
	Outcome             string         `gorm:"size:32;not null;index:idx_price_runs_outcome" json:"outcome"`
	DryRun              bool           `gorm:"not null;default:false" json:"dry_run"`
	Currency            string         `gorm:"size:8;not null" json:"currency"`
	ProductsProcessed   int            `gorm:"not null;default:0" json:"products_processed"`
	ProductsFailed      int            `gorm:"not null;default:0" json:"products_failed"`
	ProductsNotEligible int            `gorm:"not null;default:0" json:"products_not_eligible"`
	VariantsUpdated     int            `gorm:"not null;default:0" json:"variants_updated"`
	VariantsSkipped     int            `gorm:"not null;default:0" json:"variants_skipped"`
	VariantsFailed      int            `gorm:"not null;default:0" json:"variants_failed"`
	MetafieldsUpdated   int            `gorm:"not null;default:0" json:"metafields_updated"`
	MetafieldsFailed    int            `gorm:"not null;default:0" json:"metafields_failed"`
	Errors              pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"errors"`
	StartedAt           time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt          time.Time      `gorm:"not null" json:"finished_at"`
	CreatedAt           time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_price_runs_created_at" json:"created_at"`
}

func (PriceRun) TableName() string {
	return "price_runs"
}

type PriceRunFilter struct {
	RunID         *uuid.UUID
	Trigger       *string
	Outcome       *string
	DryRun        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// NewPriceRunFromReport flattens a finalized report into an audit row.
func NewPriceRunFromReport(r *RunReport) *PriceRun {
	errs := make(pq.StringArray, len(r.Errors))
	copy(errs, r.Errors)
	return &PriceRun{
		RunID:               r.RunID,
		Trigger:             r.Trigger,
		Outcome:             string(r.Outcome()),
		DryRun:              r.DryRun,
		Currency:            r.Currency,
		ProductsProcessed:   r.Counters.ProductsProcessed,
		ProductsFailed:      r.Counters.ProductsFailed,
		ProductsNotEligible: r.Counters.ProductsNotEligible,
		VariantsUpdated:     r.Counters.VariantsUpdated,
		VariantsSkipped:     r.Counters.VariantsSkipped,
		VariantsFailed:      r.Counters.VariantsFailed,
		MetafieldsUpdated:   r.Counters.MetafieldsUpdated,
		MetafieldsFailed:    r.Counters.MetafieldsFailed,
		Errors:              errs,
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
	}
}
