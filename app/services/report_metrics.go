package services

import (
	"context"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetrics exports the counters of finalized runs to Prometheus.
type RunMetrics struct {
	runsTotal       *prometheus.CounterVec
	variantsTotal   *prometheus.CounterVec
	metafieldsTotal *prometheus.CounterVec
	productsTotal   *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastRunTime     *prometheus.GaugeVec
	lastRunRate     *prometheus.GaugeVec
}

// NewRunMetrics registers the run collectors on reg.
func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	f := promauto.With(reg)
	return &RunMetrics{
		// Finalized runs partitioned by outcome and trigger
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_runs_total",
			Help: "Total number of finalized price runs",
		}, []string{"outcome", "trigger"}),
		variantsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_run_variants_total",
			Help: "Variants handled by price runs, by terminal bucket",
		}, []string{"status"}),
		metafieldsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_run_metafields_total",
			Help: "Rate metafield writes by result",
		}, []string{"status"}),
		productsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_run_products_total",
			Help: "Products seen by price runs, by result",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "price_run_duration_seconds",
			Help:    "Wall time of finalized price runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastRunTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "price_run_last_finished_timestamp_seconds",
			Help: "Unix time of the last finalized run, by outcome",
		}, []string{"outcome"}),
		lastRunRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "price_run_last_rate_per_gram",
			Help: "Pure metal rate per gram used by the last non-aborted run",
		}, []string{"family", "currency"}),
	}
}

func (m *RunMetrics) Name() string { return "metrics" }

func (m *RunMetrics) Deliver(ctx context.Context, r *models.RunReport) error {
	outcome := string(r.Outcome())
	m.runsTotal.WithLabelValues(outcome, r.Trigger).Inc()
	m.runDuration.Observe(r.Duration().Seconds())
	m.lastRunTime.WithLabelValues(outcome).Set(float64(r.FinishedAt.Unix()))

	c := r.Counters
	m.variantsTotal.WithLabelValues(string(models.DetailStatusUpdated)).Add(float64(c.VariantsUpdated))
	m.variantsTotal.WithLabelValues(string(models.DetailStatusSkipped)).Add(float64(c.VariantsSkipped))
	m.variantsTotal.WithLabelValues(string(models.DetailStatusFailed)).Add(float64(c.VariantsFailed))
	m.metafieldsTotal.WithLabelValues("updated").Add(float64(c.MetafieldsUpdated))
	m.metafieldsTotal.WithLabelValues("failed").Add(float64(c.MetafieldsFailed))
	m.productsTotal.WithLabelValues("processed").Add(float64(c.ProductsProcessed))
	m.productsTotal.WithLabelValues("failed").Add(float64(c.ProductsFailed))
	m.productsTotal.WithLabelValues("not_eligible").Add(float64(c.ProductsNotEligible))

	if !r.Aborted {
		for _, fam := range r.Rates.Families() {
			m.lastRunRate.WithLabelValues(string(fam), r.Currency).Set(r.Rates[fam])
		}
	}
	return nil
}
