package services

import (
	"context"
	"testing"

	testutil "github.com/amirphl/metal-price-sync/testing"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics_Deliver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRunMetrics(reg)

	report := testutil.SampleReport()
	require.NoError(t, m.Deliver(context.Background(), report))
	require.NoError(t, m.Deliver(context.Background(), report))

	assert.Equal(t, 2.0, promtest.ToFloat64(m.runsTotal.WithLabelValues("completed_with_errors", "cli")))
	assert.Equal(t, 6.0, promtest.ToFloat64(m.variantsTotal.WithLabelValues("updated")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.variantsTotal.WithLabelValues("failed")))
	assert.Equal(t, 8.0, promtest.ToFloat64(m.metafieldsTotal.WithLabelValues("updated")))
	assert.Equal(t, 7250.5, promtest.ToFloat64(m.lastRunRate.WithLabelValues("gold", "INR")))
	assert.Equal(t, float64(report.FinishedAt.Unix()), promtest.ToFloat64(m.lastRunTime.WithLabelValues("completed_with_errors")))
}

func TestRunMetrics_AbortedRunKeepsLastRate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRunMetrics(reg)

	require.NoError(t, m.Deliver(context.Background(), testutil.SampleReport()))

	aborted := testutil.SampleReport()
	aborted.Aborted = true
	aborted.Rates[aborted.Rates.Families()[0]] = 1
	require.NoError(t, m.Deliver(context.Background(), aborted))

	assert.Equal(t, 7250.5, promtest.ToFloat64(m.lastRunRate.WithLabelValues("gold", "INR")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.runsTotal.WithLabelValues("aborted", "cli")))
}
