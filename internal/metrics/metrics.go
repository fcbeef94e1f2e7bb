// Package metrics holds the harvester's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricsNamespace = "harvester"

// Job outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeRetried      = "retried"
	OutcomeDead         = "dead"
	OutcomeEndOfResults = "end_of_results"
)

type Metrics struct {
	registry *prometheus.Registry

	JobsProcessedTotal   *prometheus.CounterVec
	JobDurationSeconds   *prometheus.HistogramVec
	PagesEnqueuedTotal   *prometheus.CounterVec
	ItemsEnqueuedTotal   *prometheus.CounterVec
	ListingsSavedTotal   *prometheus.CounterVec
	ListingsEvicted      *prometheus.CounterVec
	SessionRecreations   *prometheus.CounterVec
	CycleDurationSeconds *prometheus.HistogramVec
	CyclesTotal          *prometheus.CounterVec
	QueueDepth           *prometheus.GaugeVec
}

// New registers every collector on a fresh registry so tests can build as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs processed by workers, by queue kind and outcome",
		}, []string{"target", "kind", "outcome"}),
		JobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of a single job attempt",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"target", "kind"}),
		PagesEnqueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "pages_enqueued_total",
			Help:      "Page jobs enqueued by the coordinator",
		}, []string{"target"}),
		ItemsEnqueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_enqueued_total",
			Help:      "Item jobs enqueued by page workers",
		}, []string{"target"}),
		ListingsSavedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_saved_total",
			Help:      "Listings upserted into the store and index",
		}, []string{"target"}),
		ListingsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_evicted_total",
			Help:      "Stale listings removed, by backend",
		}, []string{"target", "backend"}),
		SessionRecreations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "browser_session_recreations_total",
			Help:      "Browser sessions replaced after a failure",
		}, []string{"target"}),
		CycleDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full crawl cycle",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10),
		}, []string{"target"}),
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cycles_total",
			Help:      "Crawl cycles finished, by result",
		}, []string{"target", "result"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "queue_depth",
			Help:      "Last observed queue depth",
		}, []string{"queue", "state"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
