package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for feed fetching and caching.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ItemsParsed     prometheus.Counter
	InvalidRecords  prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	RefreshFailures prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_feed_requests_total",
			Help: "Total upstream feed requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelf_feed_request_duration_seconds",
			Help:    "Upstream feed request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsParsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelf_items_parsed_total",
			Help: "Total feed entries turned into book records.",
		},
	)
	invalidRecords := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelf_invalid_records_total",
			Help: "Total feed entries skipped because they failed validation.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelf_feed_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_feed_errors_total",
			Help: "Total number of fetch and parse errors by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_cache_lookups_total",
			Help: "Cache reads by result (hit, miss, stale).",
		},
		[]string{"result"},
	)
	refreshFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelf_cache_refresh_failures_total",
			Help: "Cache refreshes that failed and left previous records in place.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsParsed, invalidRecords, retries, errorsTotal, cacheLookups, refreshFailures)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ItemsParsed:     itemsParsed,
		InvalidRecords:  invalidRecords,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		CacheLookups:    cacheLookups,
		RefreshFailures: refreshFailures,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the parsed items counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsParsed.Inc()
}

// IncInvalid increments the invalid records counter.
func (m *Metrics) IncInvalid() {
	if m == nil {
		return
	}
	m.InvalidRecords.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCacheLookup records one cache read.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncRefreshFailure records a failed cache refresh.
func (m *Metrics) IncRefreshFailure() {
	if m == nil {
		return
	}
	m.RefreshFailures.Inc()
}
