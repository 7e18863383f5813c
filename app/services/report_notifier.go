package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"go.uber.org/zap"
)

var reportFuncs = map[string]any{
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"upper": strings.ToUpper,
	"inc":   func(i int) int { return i + 1 },
	"change": func(oldPrice, newPrice float64) string {
		switch d := newPrice - oldPrice; {
		case d > 0:
			return fmt.Sprintf("+%.2f", d)
		case d < 0:
			return fmt.Sprintf("%.2f", d)
		}
		return "0.00"
	},
	"arrow": func(oldPrice, newPrice float64) string {
		switch {
		case newPrice > oldPrice:
			return "↑"
		case newPrice < oldPrice:
			return "↓"
		}
		return "="
	},
}

var textReport = texttemplate.Must(texttemplate.New("text").Funcs(reportFuncs).Parse(`{{ $rule := "================================================================================" -}}
{{ $rule }}
{{ if .Success }}[SUCCESS]{{ else }}[FAILED]{{ end }} PRICE UPDATE REPORT{{ if .DryRun }} (DRY RUN){{ end }}
{{ $rule }}

Timestamp: {{ .Timestamp }}
Run ID:    {{ .RunID }}
Trigger:   {{ .Trigger }}

METAL RATES
{{ $rule }}
24K Gold Rate: {{ .Currency }} {{ money .GoldRate }}/g
Pure Silver Rate: {{ .Currency }} {{ money .SilverRate }}/g

SUMMARY STATISTICS
{{ $rule }}
Products Processed:  {{ .Statistics.ProductsProcessed }}
Products Failed:     {{ .Statistics.ProductsFailed }}
Not Eligible:        {{ .Statistics.ProductsNotEligible }}
Variants Updated:    {{ .Statistics.VariantsUpdated }}
Variants Skipped:    {{ .Statistics.VariantsSkipped }}
Variants Failed:     {{ .Statistics.VariantsFailed }}
Metafields Updated:  {{ .Statistics.MetafieldsUpdated }}
Metafields Failed:   {{ .Statistics.MetafieldsFailed }}
Total Errors:        {{ len .Errors }}
{{- if .Errors }}


ERRORS ENCOUNTERED ({{ len .Errors }})
{{ $rule }}
{{ range $i, $e := .Errors }}{{ inc $i }}. {{ $e }}
{{ end }}
{{- end }}
{{- if .Notes }}

NOTES
{{ $rule }}
{{ range .Notes }}- {{ . }}
{{ end }}
{{- end }}
{{- if .Products }}

DETAILED PRODUCT CHANGES ({{ len .Products }} products)
{{ $rule }}
{{ range .Products }}
Product: {{ .Handle }} (ID: {{ .ProductID }})
Status: {{ upper .Status }}
Variants: {{ len .Variants }}
{{- if .Variants }}
----------------------------------------
{{ range .Variants }}  Variant {{ .VariantID }} ({{ .Option1 }}):
    Old Price: {{ money .OldPrice }}
    New Price: {{ money .NewPrice }}
    Change: {{ change .OldPrice .NewPrice }}
    Status: {{ .Status }}{{ if .Reason }} ({{ .Reason }}){{ end }}
{{ end }}
{{- end }}
{{- end }}
{{- end }}
{{ $rule }}
`))

var htmlReport = htmltemplate.Must(htmltemplate.New("html").Funcs(reportFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 900px; margin: 0 auto; padding: 20px; }
.header { color: white; padding: 20px; border-radius: 5px; margin-bottom: 20px; }
.ok { background-color: #28a745; }
.ko { background-color: #dc3545; }
.section { background-color: #f8f9fa; padding: 15px; margin-bottom: 15px; border-radius: 5px; border-left: 4px solid #007bff; }
.stat-label { font-size: 0.9em; color: #6c757d; }
.stat-value { font-size: 1.4em; font-weight: bold; color: #007bff; }
.product-table { width: 100%; border-collapse: collapse; background-color: white; }
.product-table th { background-color: #007bff; color: white; padding: 10px; text-align: left; }
.product-table td { padding: 10px; border-bottom: 1px solid #dee2e6; }
.error-box { background-color: #f8d7da; border: 1px solid #f5c6cb; color: #721c24; padding: 10px; margin-bottom: 10px; border-radius: 5px; }
.variant-details { margin-left: 20px; font-size: 0.9em; color: #6c757d; }
</style>
</head>
<body>
<div class="container">
<div class="header {{ if .Success }}ok{{ else }}ko{{ end }}">
<h1>Price Update Report - {{ if .Success }}SUCCESS{{ else }}FAILED{{ end }}{{ if .DryRun }} (dry run){{ end }}</h1>
<p>Timestamp: {{ .Timestamp }} &middot; Run {{ .RunID }} &middot; {{ .Trigger }}</p>
</div>
<div class="section">
<h2>Metal Rates</h2>
<p><span class="stat-label">24K Gold Rate</span> <span class="stat-value">{{ .Currency }} {{ money .GoldRate }}/g</span></p>
<p><span class="stat-label">Pure Silver Rate</span> <span class="stat-value">{{ .Currency }} {{ money .SilverRate }}/g</span></p>
</div>
<div class="section">
<h2>Summary Statistics</h2>
<table class="product-table">
<tr><td>Products Processed</td><td>{{ .Statistics.ProductsProcessed }}</td></tr>
<tr><td>Products Failed</td><td>{{ .Statistics.ProductsFailed }}</td></tr>
<tr><td>Not Eligible</td><td>{{ .Statistics.ProductsNotEligible }}</td></tr>
<tr><td>Variants Updated</td><td>{{ .Statistics.VariantsUpdated }}</td></tr>
<tr><td>Variants Skipped</td><td>{{ .Statistics.VariantsSkipped }}</td></tr>
<tr><td>Variants Failed</td><td>{{ .Statistics.VariantsFailed }}</td></tr>
<tr><td>Metafields Updated</td><td>{{ .Statistics.MetafieldsUpdated }}</td></tr>
<tr><td>Metafields Failed</td><td>{{ .Statistics.MetafieldsFailed }}</td></tr>
<tr><td>Total Errors</td><td>{{ len .Errors }}</td></tr>
</table>
</div>
{{ if .Errors }}<div class="section">
<h2>Errors Encountered</h2>
{{ range .Errors }}<div class="error-box">{{ . }}</div>
{{ end }}</div>{{ end }}
{{ if .Products }}<div class="section">
<h2>Detailed Product Changes ({{ len .Products }} products)</h2>
<table class="product-table">
<thead><tr><th>Product</th><th>Product ID</th><th>Variants</th><th>Status</th></tr></thead>
<tbody>
{{ range .Products }}<tr><td><strong>{{ .Handle }}</strong></td><td>{{ .ProductID }}</td><td>{{ len .Variants }} variant(s)</td><td>{{ upper .Status }}</td></tr>
{{ if .Variants }}<tr><td colspan="4"><div class="variant-details">
{{ range .Variants }}<div><strong>Variant {{ .VariantID }}</strong> ({{ .Option1 }}): {{ money .OldPrice }} &rarr; {{ money .NewPrice }} {{ arrow .OldPrice .NewPrice }} ({{ .Status }}{{ if .Reason }}: {{ .Reason }}{{ end }})</div>
{{ end }}</div></td></tr>{{ end }}
{{ end }}</tbody>
</table>
</div>{{ end }}
<div class="footer"><p>Generated by {{ .App }}</p></div>
</div>
</body>
</html>
`))

type reportView struct {
	RunSummary
	Success bool
	App     string
}

// ReportSubject returns the email subject of a finalized report.
func ReportSubject(r *models.RunReport) string {
	ts := utils.ReportTimestamp(r.FinishedAt)
	prefix := ""
	if r.DryRun {
		prefix = "[DRY RUN] "
	}
	if r.Outcome() == models.RunOutcomeAborted {
		return prefix + "Price Update FAILED - " + ts
	}
	return fmt.Sprintf("%sPrice Update Complete - %d products, %d variants updated - %s",
		prefix, r.Counters.ProductsProcessed, r.Counters.VariantsUpdated, ts)
}

// RenderReportEmail builds the subject and both bodies of a report email.
func RenderReportEmail(r *models.RunReport) (EmailMessage, error) {
	view := reportView{
		RunSummary: BuildRunSummary(r),
		Success:    r.Outcome() != models.RunOutcomeAborted,
		App:        utils.AppName + " " + utils.AppVersion,
	}

	var text, html bytes.Buffer
	if err := textReport.Execute(&text, view); err != nil {
		return EmailMessage{}, fmt.Errorf("render text report: %w", err)
	}
	if err := htmlReport.Execute(&html, view); err != nil {
		return EmailMessage{}, fmt.Errorf("render html report: %w", err)
	}
	return EmailMessage{Subject: ReportSubject(r), Text: text.String(), HTML: html.String()}, nil
}

// ReportNotifier emails the report of every finalized run.
type ReportNotifier struct {
	provider   EmailProvider
	recipients []string
	logger     *zap.Logger
}

func NewReportNotifier(provider EmailProvider, recipients []string, logger *zap.Logger) *ReportNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportNotifier{provider: provider, recipients: recipients, logger: logger}
}

func (n *ReportNotifier) Name() string { return "email" }

func (n *ReportNotifier) Deliver(ctx context.Context, report *models.RunReport) error {
	msg, err := RenderReportEmail(report)
	if err != nil {
		return err
	}
	msg.To = n.recipients
	if err := n.provider.SendEmail(ctx, msg); err != nil {
		return fmt.Errorf("send report email: %w", err)
	}
	n.logger.Info("report email sent", zap.Strings("to", n.recipients), zap.String("subject", msg.Subject))
	return nil
}
