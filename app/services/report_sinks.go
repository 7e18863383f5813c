package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SummaryVariant is one variant line of the run summary.
type SummaryVariant struct {
	VariantID int64                  `json:"variant_id"`
	Option1   string                 `json:"option1"`
	MetalType string                 `json:"metal_type,omitempty"`
	OldPrice  float64                `json:"old_price"`
	NewPrice  float64                `json:"new_price"`
	Status    string                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Breakdown *models.PriceBreakdown `json:"breakdown,omitempty"`
}

// SummaryProduct groups the variant lines of one product.
type SummaryProduct struct {
	ProductID         int64            `json:"product_id"`
	Handle            string           `json:"handle"`
	Status            string           `json:"status"`
	Reason            string           `json:"reason,omitempty"`
	Variants          []SummaryVariant `json:"variants"`
	MetafieldsUpdated []string         `json:"metafields_updated,omitempty"`
	MetafieldsFailed  []string         `json:"metafields_failed,omitempty"`
}

// RunSummary is the artifact shape shared by the summary file, the archive,
// the email report and the run event.
type RunSummary struct {
	RunID           string                 `json:"run_id"`
	Timestamp       string                 `json:"timestamp"`
	Trigger         string                 `json:"trigger"`
	Outcome         models.RunOutcome      `json:"outcome"`
	DryRun          bool                   `json:"dry_run"`
	SkipMetafields  bool                   `json:"skip_metafields"`
	Currency        string                 `json:"currency"`
	GoldRate        float64                `json:"gold_rate"`
	SilverRate      float64                `json:"silver_rate"`
	Settings        models.PricingSettings `json:"settings"`
	Statistics      models.RunCounters     `json:"statistics"`
	DurationSeconds float64                `json:"duration_seconds"`
	Errors          []string               `json:"errors"`
	Notes           []string               `json:"notes"`
	Products        []SummaryProduct       `json:"products"`
}

// BuildRunSummary groups the detail log by product, keeping report order.
func BuildRunSummary(r *models.RunReport) RunSummary {
	s := RunSummary{
		RunID:           r.RunID.String(),
		Timestamp:       utils.ReportTimestamp(r.FinishedAt),
		Trigger:         r.Trigger,
		Outcome:         r.Outcome(),
		DryRun:          r.DryRun,
		SkipMetafields:  r.SkipMetafields,
		Currency:        r.Currency,
		GoldRate:        r.Rates[models.MetalFamilyGold],
		SilverRate:      r.Rates[models.MetalFamilySilver],
		Settings:        r.Settings,
		Statistics:      r.Counters,
		DurationSeconds: r.Duration().Seconds(),
		Errors:          append([]string{}, r.Errors...),
		Notes:           append([]string{}, r.Notes...),
		Products:        []SummaryProduct{},
	}

	index := map[int64]int{}
	productFor := func(d models.RunDetail) *SummaryProduct {
		i, ok := index[d.ProductID]
		if !ok {
			i = len(s.Products)
			index[d.ProductID] = i
			s.Products = append(s.Products, SummaryProduct{
				ProductID: d.ProductID,
				Handle:    d.ProductTitle,
				Status:    "success",
				Variants:  []SummaryVariant{},
			})
		}
		return &s.Products[i]
	}

	for _, d := range r.Details {
		p := productFor(d)
		if p.Handle == "" {
			p.Handle = d.ProductTitle
		}
		switch d.Scope {
		case models.DetailScopeProduct:
			if d.Status == models.DetailStatusFailed {
				p.Status = "failed"
				p.Reason = d.Reason
			}
		case models.DetailScopeVariant:
			p.Variants = append(p.Variants, SummaryVariant{
				VariantID: d.VariantID,
				Option1:   d.VariantTitle,
				MetalType: string(d.MetalType),
				OldPrice:  d.OldPrice,
				NewPrice:  d.NewPrice,
				Status:    string(d.Status),
				Reason:    d.Reason,
				Breakdown: d.Breakdown,
			})
			if d.Status == models.DetailStatusFailed {
				p.Status = "failed"
			}
		case models.DetailScopeMetafield:
			if d.Status == models.DetailStatusMetafieldKO {
				p.MetafieldsFailed = append(p.MetafieldsFailed, d.Key)
				p.Status = "failed"
			} else {
				p.MetafieldsUpdated = append(p.MetafieldsUpdated, d.Key)
			}
		}
	}
	return s
}

// MarshalSummary renders the indented JSON summary of a report.
func MarshalSummary(r *models.RunReport) ([]byte, error) {
	return json.MarshalIndent(BuildRunSummary(r), "", "  ")
}

// JSONSummarySink writes the run summary to a file, replacing the previous one.
type JSONSummarySink struct {
	path   string
	logger *zap.Logger
}

func NewJSONSummarySink(path string, logger *zap.Logger) *JSONSummarySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONSummarySink{path: path, logger: logger}
}

func (s *JSONSummarySink) Name() string { return "summary" }

func (s *JSONSummarySink) Deliver(ctx context.Context, report *models.RunReport) error {
	data, err := MarshalSummary(report)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.logger.Info("summary saved", zap.String("path", s.path))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

const (
	sheetSummary  = "Summary"
	sheetVariants = "Variants"
	sheetErrors   = "Errors"
)

var variantHeader = []string{
	"product_id", "product", "variant_id", "variant", "metal_type", "status", "reason",
	"old_price", "new_price", "change", "metal_cost", "stone_cost", "making_charge", "markup", "tax",
}

// BuildWorkbook renders a report as an XLSX workbook with summary, variant and error sheets.
func BuildWorkbook(r *models.RunReport) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), sheetSummary)
	summary := [][]any{
		{"run_id", r.RunID.String()},
		{"timestamp", utils.ReportTimestamp(r.FinishedAt)},
		{"trigger", r.Trigger},
		{"outcome", string(r.Outcome())},
		{"dry_run", r.DryRun},
		{"currency", r.Currency},
		{"gold_rate", r.Rates[models.MetalFamilyGold]},
		{"silver_rate", r.Rates[models.MetalFamilySilver]},
		{"making_charge", r.Settings.MakingCharge},
		{"markup_percentage", r.Settings.MarkupPercentage},
		{"tax_percentage", r.Settings.TaxPercentage},
		{"products_processed", r.Counters.ProductsProcessed},
		{"products_failed", r.Counters.ProductsFailed},
		{"products_not_eligible", r.Counters.ProductsNotEligible},
		{"variants_updated", r.Counters.VariantsUpdated},
		{"variants_skipped", r.Counters.VariantsSkipped},
		{"variants_failed", r.Counters.VariantsFailed},
		{"metafields_updated", r.Counters.MetafieldsUpdated},
		{"metafields_failed", r.Counters.MetafieldsFailed},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return nil, err
		}
	}

	if _, err := xl.NewSheet(sheetVariants); err != nil {
		return nil, err
	}
	_ = xl.SetSheetRow(sheetVariants, "A1", &variantHeader)
	row := 2
	for _, d := range r.Details {
		if d.Scope != models.DetailScopeVariant {
			continue
		}
		record := []any{
			d.ProductID, d.ProductTitle, d.VariantID, d.VariantTitle, string(d.MetalType),
			string(d.Status), d.Reason, d.OldPrice, d.NewPrice, d.NewPrice - d.OldPrice,
		}
		if b := d.Breakdown; b != nil {
			record = append(record, b.MetalCost, b.StoneCost, b.Making, b.Markup, b.Tax)
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := xl.SetSheetRow(sheetVariants, cell, &record); err != nil {
			return nil, err
		}
		row++
	}

	if len(r.Errors) > 0 {
		if _, err := xl.NewSheet(sheetErrors); err != nil {
			return nil, err
		}
		for i, e := range r.Errors {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			record := []any{i + 1, e}
			_ = xl.SetSheetRow(sheetErrors, cell, &record)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSXReportSink writes one workbook per run into a directory.
type XLSXReportSink struct {
	dir    string
	logger *zap.Logger
}

func NewXLSXReportSink(dir string, logger *zap.Logger) *XLSXReportSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XLSXReportSink{dir: dir, logger: logger}
}

func (s *XLSXReportSink) Name() string { return "xlsx" }

// WorkbookName is the file name of a run's workbook.
func WorkbookName(r *models.RunReport) string {
	return "price_run_" + r.FinishedAt.UTC().Format("20060102T150405Z") + "_" + r.RunID.String()[:8] + ".xlsx"
}

func (s *XLSXReportSink) Deliver(ctx context.Context, report *models.RunReport) error {
	data, err := BuildWorkbook(report)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, WorkbookName(report))
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	s.logger.Info("workbook saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
