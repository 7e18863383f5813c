package dto

import (
	"time"

	"github.com/amirphl/metal-price-sync/models"
)

// TriggerPriceRunRequest starts a run from the admin API. Omitted rates are
// fetched live; omitted charges come from the shop settings.
type TriggerPriceRunRequest struct {
	GoldRate         *float64 `json:"gold_rate,omitempty" validate:"omitempty,gt=0"`
	SilverRate       *float64 `json:"silver_rate,omitempty" validate:"omitempty,gt=0"`
	MakingCharge     *float64 `json:"making_charge,omitempty" validate:"omitempty,gte=0"`
	MarkupPercentage *float64 `json:"markup_percentage,omitempty" validate:"omitempty,gte=0,lte=1000"`
	TaxPercentage    *float64 `json:"tax_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Currency         string   `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	DryRun           bool     `json:"dry_run"`
	SkipMetafields   bool     `json:"skip_metafields"`
	PushSettings     bool     `json:"push_settings"`
}

// ListPriceRunsRequest filters the run history
type ListPriceRunsRequest struct {
	Trigger       string `query:"trigger" validate:"omitempty,oneof=cli scheduler api"`
	Outcome       string `query:"outcome" validate:"omitempty,oneof=success completed_with_errors aborted"`
	DryRun        string `query:"dry_run" validate:"omitempty,oneof=true false"`
	CreatedAfter  string `query:"created_after" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CreatedBefore string `query:"created_before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Page          int    `query:"page" validate:"omitempty,gte=1"`
	PageSize      int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// PriceRunItem is one audit row of the run history
type PriceRunItem struct {
	RunID      string             `json:"run_id"`
	Trigger    string             `json:"trigger"`
	Outcome    string             `json:"outcome"`
	DryRun     bool               `json:"dry_run"`
	Currency   string             `json:"currency"`
	Statistics models.RunCounters `json:"statistics"`
	Errors     []string           `json:"errors"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// NewPriceRunItem maps an audit row to its API shape
func NewPriceRunItem(r *models.PriceRun) PriceRunItem {
	errs := []string(r.Errors)
	if errs == nil {
		errs = []string{}
	}
	return PriceRunItem{
		RunID:    r.RunID.String(),
		Trigger:  r.Trigger,
		Outcome:  r.Outcome,
		DryRun:   r.DryRun,
		Currency: r.Currency,
		Statistics: models.RunCounters{
			ProductsProcessed:   r.ProductsProcessed,
			ProductsFailed:      r.ProductsFailed,
			ProductsNotEligible: r.ProductsNotEligible,
			VariantsUpdated:     r.VariantsUpdated,
			VariantsSkipped:     r.VariantsSkipped,
			VariantsFailed:      r.VariantsFailed,
			MetafieldsUpdated:   r.MetafieldsUpdated,
			MetafieldsFailed:    r.MetafieldsFailed,
		},
		Errors:     errs,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ListPriceRunsResponse is one page of the run history
type ListPriceRunsResponse struct {
	Items      []PriceRunItem `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// PriceRunResponse carries the full report of a run triggered over the API
type PriceRunResponse struct {
	Outcome models.RunOutcome `json:"outcome"`
	Summary string            `json:"summary"`
	Report  *models.RunReport `json:"report"`
}

// LiveRatesResponse is the body of the live rates endpoint
type LiveRatesResponse struct {
	Currency  string             `json:"currency"`
	Rates     map[string]float64 `json:"rates_per_gram"`
	FetchedAt time.Time          `json:"fetched_at"`
}
