package services

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/amirphl/metal-price-sync/models"
	testutil "github.com/amirphl/metal-price-sync/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readWorkbookRows(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()
	rows, err := xl.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestBuildRunSummary(t *testing.T) {
	report := testutil.SampleReport()

	s := BuildRunSummary(report)

	assert.Equal(t, "7d1f0c1e-3b7a-4d55-9b0e-2f8a6c4e1a90", s.RunID)
	assert.Equal(t, "2026-01-15 09:00:42 UTC", s.Timestamp)
	assert.Equal(t, models.RunOutcomeCompletedWithErrors, s.Outcome)
	assert.InDelta(t, 7250.5, s.GoldRate, 1e-9)
	assert.InDelta(t, 95.0, s.SilverRate, 1e-9)
	assert.InDelta(t, 42.0, s.DurationSeconds, 1e-9)
	assert.Equal(t, report.Counters, s.Statistics)

	require.Len(t, s.Products, 1)
	p := s.Products[0]
	assert.Equal(t, int64(1), p.ProductID)
	assert.Equal(t, "Ring", p.Handle)
	assert.Equal(t, "failed", p.Status)
	assert.Equal(t, []string{"gold_rate"}, p.MetafieldsUpdated)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, "updated", p.Variants[0].Status)
	assert.InDelta(t, 30260.0, p.Variants[0].NewPrice, 1e-9)
	require.NotNil(t, p.Variants[0].Breakdown)
	assert.Equal(t, "failed", p.Variants[1].Status)
	assert.Equal(t, "storefront write failed: 502", p.Variants[1].Reason)
}

func TestBuildRunSummary_EmptyReport(t *testing.T) {
	report := testutil.SampleReport()
	report.Details = nil
	report.Errors = nil
	report.Notes = nil

	s := BuildRunSummary(report)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"products":[]`)
	assert.Contains(t, string(data), `"errors":[]`)
}

func TestJSONSummarySink_Deliver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "price_update_summary.json")
	sink := NewJSONSummarySink(path, nil)
	assert.Equal(t, "summary", sink.Name())

	require.NoError(t, sink.Deliver(context.Background(), testutil.SampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "cli", doc["trigger"])
	assert.Equal(t, "completed_with_errors", doc["outcome"])
	stats := doc["statistics"].(map[string]any)
	assert.Equal(t, 3.0, stats["variants_updated"])

	// a second run replaces the file
	second := testutil.SampleReport()
	second.Trigger = "scheduler"
	require.NoError(t, sink.Deliver(context.Background(), second))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trigger": "scheduler"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestBuildWorkbook(t *testing.T) {
	data, err := BuildWorkbook(testutil.SampleReport())
	require.NoError(t, err)

	summary := readWorkbookRows(t, data, sheetSummary)
	require.NotEmpty(t, summary)
	assert.Equal(t, []string{"run_id", "7d1f0c1e-3b7a-4d55-9b0e-2f8a6c4e1a90"}, summary[0])

	variants := readWorkbookRows(t, data, sheetVariants)
	require.Len(t, variants, 3)
	assert.Equal(t, variantHeader, variants[0])
	assert.Equal(t, "10", variants[1][2])
	assert.Equal(t, "updated", variants[1][5])
	assert.Equal(t, "30260", variants[1][8])
	assert.Equal(t, "failed", variants[2][5])

	errs := readWorkbookRows(t, data, sheetErrors)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0][1], "storefront write failed")
}

func TestXLSXReportSink_Deliver(t *testing.T) {
	dir := t.TempDir()
	sink := NewXLSXReportSink(dir, nil)
	report := testutil.SampleReport()

	require.NoError(t, sink.Deliver(context.Background(), report))

	name := WorkbookName(report)
	assert.Equal(t, "price_run_20260115T090042Z_7d1f0c1e.xlsx", name)
	_, err := os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)
}
