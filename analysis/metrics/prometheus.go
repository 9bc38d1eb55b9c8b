// Package metrics provides Prometheus metrics export for the analysis
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports pipeline metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Request metrics
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	// Escalation metrics
	escalations *prometheus.CounterVec
	tokensUsed  prometheus.Counter
	budgetLeft  prometheus.Gauge

	// Cache metrics
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Total number of analysis requests",
		},
		[]string{"source", "route"},
	)

	e.requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "moodsense",
			Subsystem: "analysis",
			Name:      "request_latency_seconds",
			Help:      "Analysis request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "analysis",
			Name:      "escalations_total",
			Help:      "Total number of escalation decisions by reason",
		},
		[]string{"reason"},
	)

	e.tokensUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "analysis",
			Name:      "escalation_tokens_total",
			Help:      "Total tokens consumed by escalated analyses",
		},
	)

	e.budgetLeft = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "moodsense",
			Subsystem: "analysis",
			Name:      "escalation_budget_remaining",
			Help:      "Remaining daily escalation token budget",
		},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"bucket"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"bucket"},
	)

	e.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moodsense",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions",
		},
		[]string{"bucket"},
	)

	registry.MustRegister(
		e.requests,
		e.requestLatency,
		e.escalations,
		e.tokensUsed,
		e.budgetLeft,
		e.cacheHits,
		e.cacheMisses,
		e.cacheEvictions,
	)

	return e
}

// RecordRequest records one completed analysis request.
func (e *Exporter) RecordRequest(source, route string, latency time.Duration) {
	e.requests.WithLabelValues(source, route).Inc()
	e.requestLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordDecision records one gating decision by reason.
func (e *Exporter) RecordDecision(reason string) {
	e.escalations.WithLabelValues(reason).Inc()
}

// RecordTokens records escalation token spend.
func (e *Exporter) RecordTokens(count int64) {
	if count > 0 {
		e.tokensUsed.Add(float64(count))
	}
}

// SetBudgetRemaining publishes the remaining daily token budget.
func (e *Exporter) SetBudgetRemaining(remaining int64) {
	e.budgetLeft.Set(float64(remaining))
}

// RecordCacheHit records a cache hit for a bucket.
func (e *Exporter) RecordCacheHit(bucket string) {
	e.cacheHits.WithLabelValues(bucket).Inc()
}

// RecordCacheMiss records a cache miss for a bucket.
func (e *Exporter) RecordCacheMiss(bucket string) {
	e.cacheMisses.WithLabelValues(bucket).Inc()
}

// RecordCacheEviction records a cache eviction for a bucket.
func (e *Exporter) RecordCacheEviction(bucket string) {
	e.cacheEvictions.WithLabelValues(bucket).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
