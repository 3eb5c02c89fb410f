package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/torii-authz/torii/pkg/cache"
)

// PrometheusExporter exposes engine and transport metrics in Prometheus
// format.
type PrometheusExporter struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	checkDecisions *prometheus.CounterVec

	cacheHits      prometheus.Gauge
	cacheMisses    prometheus.Gauge
	cacheHitRate   prometheus.Gauge
	cacheEvictions prometheus.Gauge
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{
		httpRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "torii_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "status"},
		),
		httpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "torii_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"handler"},
		),
		httpErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "torii_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"handler"},
		),
		checkDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "torii_check_decisions_total",
				Help: "Permission check decisions by outcome",
			},
			[]string{"outcome"},
		),
		cacheHits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "torii_decision_cache_hits_total",
			Help: "Total decision cache hits",
		}),
		cacheMisses: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "torii_decision_cache_misses_total",
			Help: "Total decision cache misses",
		}),
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "torii_decision_cache_hit_rate",
			Help: "Decision cache hit rate (0.0 to 1.0)",
		}),
		cacheEvictions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "torii_decision_cache_evictions_total",
			Help: "Total decision cache evictions",
		}),
	}
}

// RecordRequest records one handled HTTP request.
func (e *PrometheusExporter) RecordRequest(handler, status string, durationSeconds float64) {
	e.httpRequests.WithLabelValues(handler, status).Inc()
	e.httpDuration.WithLabelValues(handler).Observe(durationSeconds)
}

// RecordError records an HTTP error response.
func (e *PrometheusExporter) RecordError(handler string) {
	e.httpErrors.WithLabelValues(handler).Inc()
}

// RecordDecision records a check outcome ("allowed" or "denied").
func (e *PrometheusExporter) RecordDecision(outcome string) {
	e.checkDecisions.WithLabelValues(outcome).Inc()
}

// UpdateCacheMetrics publishes a cache metrics snapshot.
// Call periodically, e.g. every 10 seconds.
func (e *PrometheusExporter) UpdateCacheMetrics(m *cache.Metrics) {
	e.cacheHits.Set(float64(m.Hits))
	e.cacheMisses.Set(float64(m.Misses))
	e.cacheHitRate.Set(m.HitRate())
	e.cacheEvictions.Set(float64(m.KeysEvicted))
}
