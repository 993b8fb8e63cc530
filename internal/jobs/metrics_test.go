package jobmetrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	jobmetrics "github.com/odyssey-erp/odyssey-recurring/internal/jobs"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
)

var _ recurring.Metrics = (*jobmetrics.Metrics)(nil)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := jobmetrics.NewMetrics(reg)

	assert.NoError(t, m.Track("recurring:sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("recurring:sweep").End(boom), boom)

	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "odyssey_jobs_failures_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecurringCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := jobmetrics.NewMetrics(reg)

	m.InvoiceGenerated("manual")
	m.InvoiceGenerated("schedule")
	m.InvoiceGenerated("schedule")
	m.GenerationFailed("invalid_state")
	m.SweepEnqueued(3, 1)
	m.SweepEnqueued(0, 0)

	count, err := testutil.GatherAndCount(reg, "odyssey_recurring_invoices_generated_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count, "one series per trigger")
	count, err = testutil.GatherAndCount(reg, "odyssey_recurring_sweep_tasks_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *jobmetrics.Metrics
	m.InvoiceGenerated("manual")
	m.GenerationFailed("persistence")
	m.SweepEnqueued(1, 1)
	assert.NoError(t, m.Track("noop").End(nil))
}
