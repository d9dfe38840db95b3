package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// MetricsService owns the Prometheus registry. Counters that feed the /health
// snapshot are mirrored in atomics so the snapshot never has to gather the
// registry.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	approvalsFinalized *prometheus.CounterVec
	routingFailures    *prometheus.CounterVec
	unitsIssued        prometheus.Counter
	unitsRestocked     prometheus.Counter
	verifications      *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	finalizedCount       uint64
	routingFailureCount  uint64
	issuedUnitCount      uint64
}

const metricsNamespace = "issuance"

// NewMetricsService registers the HTTP, cache and workflow collectors plus the
// Go runtime and process collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	m := &MetricsService{registry: registry}

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests by route template",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})
	m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route template",
	}, []string{"method", "route", "status"})

	cacheOpts := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "routing_cache",
			Name:      name,
			Help:      help,
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}
	}
	m.cacheLatency = prometheus.NewHistogram(cacheOpts("lookup_seconds", "Routing cache lookup latency"))
	m.cacheWrite = prometheus.NewHistogram(cacheOpts("write_seconds", "Routing cache write latency"))
	m.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "routing_cache", Name: "hit_ratio",
		Help: "Hits over lookups since start",
	})
	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "routing_cache", Name: "hits_total",
		Help: "Routing cache hits",
	})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "routing_cache", Name: "misses_total",
		Help: "Routing cache misses, including lookups that failed",
	})

	m.approvalsFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "approvals_finalized_total",
		Help:      "Finalized approvals by aggregate outcome",
	}, []string{"outcome"})
	m.routingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "routing_failures_total",
		Help:      "Approver resolution failures by error code",
	}, []string{"code"})
	m.unitsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "stock_units_issued_total",
		Help:      "Units deducted from stock on issuance",
	})
	m.unitsRestocked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "stock_units_restocked_total",
		Help:      "Units returned to stock in good condition",
	})
	m.verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "verifications_total",
		Help:      "Verification transitions by resulting status",
	}, []string{"status"})

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metricsNamespace}),
		m.requestDuration, m.requestTotal,
		m.cacheLatency, m.cacheWrite, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.approvalsFinalized, m.routingFailures, m.unitsIssued, m.unitsRestocked, m.verifications,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, route, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, route, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordFinalized counts a finalized approval by its aggregate outcome.
func (m *MetricsService) RecordFinalized(outcome models.ApprovalStatus) {
	if m == nil {
		return
	}
	m.approvalsFinalized.WithLabelValues(string(outcome)).Inc()
	atomic.AddUint64(&m.finalizedCount, 1)
}

// RecordRoutingFailure counts a failed approver lookup.
func (m *MetricsService) RecordRoutingFailure(code string) {
	if m == nil {
		return
	}
	m.routingFailures.WithLabelValues(code).Inc()
	atomic.AddUint64(&m.routingFailureCount, 1)
}

// RecordIssued counts units deducted from stock.
func (m *MetricsService) RecordIssued(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsIssued.Add(float64(units))
	atomic.AddUint64(&m.issuedUnitCount, uint64(units))
}

// RecordRestocked counts units put back on the shelf.
func (m *MetricsService) RecordRestocked(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsRestocked.Add(float64(units))
}

// RecordVerification counts a verification transition.
func (m *MetricsService) RecordVerification(status models.VerificationStatus) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(string(status)).Inc()
}

// Snapshot returns aggregated metrics for the health endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ApprovalsFinalized:       atomic.LoadUint64(&m.finalizedCount),
		RoutingFailures:          atomic.LoadUint64(&m.routingFailureCount),
		UnitsIssued:              atomic.LoadUint64(&m.issuedUnitCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
