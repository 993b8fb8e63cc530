package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	generated   *prometheus.CounterVec
	genFailures *prometheus.CounterVec
	sweep       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// InvoiceGenerated counts one committed generation for trigger (manual or schedule).
func (m *Metrics) InvoiceGenerated(trigger string) {
	if m == nil {
		return
	}
	m.generated.WithLabelValues(trigger).Inc()
}

// GenerationFailed counts one rejected or failed generation by reason.
func (m *Metrics) GenerationFailed(reason string) {
	if m == nil {
		return
	}
	m.genFailures.WithLabelValues(reason).Inc()
}

// SweepEnqueued records how many generate tasks a sweep enqueued and how many it
// skipped because the slot was already queued.
func (m *Metrics) SweepEnqueued(enqueued, duplicates int) {
	if m == nil {
		return
	}
	if enqueued > 0 {
		m.sweep.WithLabelValues("enqueued").Add(float64(enqueued))
	}
	if duplicates > 0 {
		m.sweep.WithLabelValues("duplicate").Add(float64(duplicates))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	generated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_recurring_invoices_generated_total",
		Help: "Invoices produced from recurring templates, by trigger.",
	}, []string{"trigger"})
	genFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_recurring_generation_failures_total",
		Help: "Recurring generations that did not produce an invoice, by reason.",
	}, []string{"reason"})
	sweep := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_recurring_sweep_tasks_total",
		Help: "Generate tasks handled by the due-template sweep, by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, generated, genFailures, sweep)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		generated:   generated,
		genFailures: genFailures,
		sweep:       sweep,
	}
}
