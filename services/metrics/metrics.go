// Package metrics exposes scraper counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "real_estate_scraper"

// Metrics records pipeline counters on its own registry
type Metrics struct {
	registry   *prometheus.Registry
	candidates *prometheus.CounterVec
	imported   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	errors     *prometheus.CounterVec
	runs       *prometheus.CounterVec
	duration   prometheus.Histogram
	lastRun    prometheus.Gauge
}

// New creates and registers the scraper metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidate property URLs examined",
		}, []string{"category"}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "properties_imported_total",
			Help:      "Properties created",
		}, []string{"category"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Candidates skipped because they were already imported",
		}, []string{"category"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Pipeline errors by category and stage",
		}, []string{"category", "stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	m.registry.MustRegister(
		m.candidates, m.imported, m.duplicates, m.errors, m.runs, m.duration, m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) CandidateExamined(category string) {
	m.candidates.WithLabelValues(category).Inc()
}

func (m *Metrics) PropertyImported(category string) {
	m.imported.WithLabelValues(category).Inc()
}

func (m *Metrics) DuplicateSkipped(category string) {
	m.duplicates.WithLabelValues(category).Inc()
}

func (m *Metrics) PipelineError(category, stage string) {
	m.errors.WithLabelValues(category, stage).Inc()
}

func (m *Metrics) RunFinished(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// Registry returns the registry holding the scraper metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
