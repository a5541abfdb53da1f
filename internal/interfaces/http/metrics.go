package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/provider"
)

// MetricsRegistry holds all Prometheus metrics exposed on /metrics. Each
// server owns its own underlying registry so instances never collide.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Operation metrics
	OperationDuration *prometheus.HistogramVec
	Operations        *prometheus.CounterVec

	// Engine outcome metrics
	DetectEvents         *prometheus.CounterVec
	CombineReduction     prometheus.Histogram
	OptimizeCellDuration *prometheus.HistogramVec

	// System metrics
	ActiveAnalyses prometheus.Gauge
	TotalAnalyses  prometheus.Counter

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	mu         sync.Mutex
	cacheTypes map[string]struct{}
}

// NewMetricsRegistry creates a metrics registry with all collectors
// registered.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry:   prometheus.NewRegistry(),
		cacheTypes: make(map[string]struct{}),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigforge_operation_duration_seconds",
				Help:    "Duration of each analysis operation in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation", "result"},
		),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigforge_operations_total",
				Help: "Total number of analysis operations executed",
			},
			[]string{"operation", "result"},
		),

		DetectEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigforge_detect_events_total",
				Help: "Total number of condition events detected by operator",
			},
			[]string{"operator"},
		),

		CombineReduction: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sigforge_combine_reduction_pct",
				Help:    "Percent of input signals removed by consensus combination",
				Buckets: []float64{0, 10, 25, 50, 75, 90, 95, 99, 100},
			},
		),

		OptimizeCellDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigforge_optimize_cell_duration_seconds",
				Help:    "Mean per-cell evaluation time of optimization sweeps",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"strategy"},
		),

		ActiveAnalyses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigforge_active_analyses",
				Help: "Number of currently running analysis requests",
			},
		),

		TotalAnalyses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sigforge_analyses_total",
				Help: "Total number of analysis requests accepted",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigforge_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigforge_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigforge_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigforge_provider_requests_total",
				Help: "Total number of upstream provider requests by outcome",
			},
			[]string{"endpoint", "status"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigforge_provider_request_duration_ms",
				Help:    "Upstream provider request duration in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"endpoint"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.OperationDuration,
		m.Operations,
		m.DetectEvents,
		m.CombineReduction,
		m.OptimizeCellDuration,
		m.ActiveAnalyses,
		m.TotalAnalyses,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.ProviderRequests,
		m.ProviderLatency,
	)

	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OperationTimer tracks execution time for one analysis operation.
type OperationTimer struct {
	metrics   *MetricsRegistry
	operation string
	start     time.Time
}

// StartTimer begins timing an analysis operation.
func (m *MetricsRegistry) StartTimer(operation string) *OperationTimer {
	return &OperationTimer{
		metrics:   m,
		operation: operation,
		start:     time.Now(),
	}
}

// Stop completes the timing and records the metric.
func (t *OperationTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.metrics.OperationDuration.WithLabelValues(t.operation, result).Observe(duration.Seconds())
	t.metrics.Operations.WithLabelValues(t.operation, result).Inc()

	log.Debug().
		Str("operation", t.operation).
		Str("result", result).
		Dur("duration", duration).
		Msg("Operation completed")
}

// RecordDetectEvents records how many events a detection pass produced.
func (m *MetricsRegistry) RecordDetectEvents(operator string, count int) {
	m.DetectEvents.WithLabelValues(operator).Add(float64(count))
}

// ObserveCombineReduction records the signal reduction of a combine run.
func (m *MetricsRegistry) ObserveCombineReduction(pct float64) {
	m.CombineReduction.Observe(pct)
}

// ObserveOptimizeCells records the mean per-cell duration of a sweep.
func (m *MetricsRegistry) ObserveOptimizeCells(strategy string, cells int, elapsed time.Duration) {
	if cells <= 0 {
		return
	}
	m.OptimizeCellDuration.WithLabelValues(strategy).Observe(elapsed.Seconds() / float64(cells))
}

// IncrementActiveAnalyses marks one analysis request as running.
func (m *MetricsRegistry) IncrementActiveAnalyses() {
	m.ActiveAnalyses.Inc()
	m.TotalAnalyses.Inc()
}

// DecrementActiveAnalyses marks one analysis request as finished.
func (m *MetricsRegistry) DecrementActiveAnalyses() {
	m.ActiveAnalyses.Dec()
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.trackCacheType(cacheType)
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.trackCacheType(cacheType)
	m.updateCacheHitRatio()
}

func (m *MetricsRegistry) trackCacheType(cacheType string) {
	m.mu.Lock()
	m.cacheTypes[cacheType] = struct{}{}
	m.mu.Unlock()
}

// updateCacheHitRatio recomputes the hit ratio gauge by reading the hit
// and miss counters back across every cache type seen so far.
func (m *MetricsRegistry) updateCacheHitRatio() {
	m.mu.Lock()
	types := make([]string, 0, len(m.cacheTypes))
	for t := range m.cacheTypes {
		types = append(types, t)
	}
	m.mu.Unlock()

	hitMetric := &dto.Metric{}
	missMetric := &dto.Metric{}

	totalHits := 0.0
	totalMisses := 0.0
	for _, cacheType := range types {
		if hitCounter, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}
		if missCounter, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	total := totalHits + totalMisses
	if total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// ProviderCallback adapts this registry into the provider's metrics
// hook, mapping provider events onto the sigforge metric families.
func (m *MetricsRegistry) ProviderCallback() provider.MetricsCallback {
	return func(metric string, value float64, tags map[string]string) {
		endpoint := strings.ToLower(tags["endpoint"])
		switch metric {
		case "provider_cache_hits_total":
			m.RecordCacheHit(endpoint)
		case "provider_cache_misses_total":
			m.RecordCacheMiss(endpoint)
		case "provider_requests_total":
			m.ProviderRequests.WithLabelValues(endpoint, tags["status"]).Add(value)
		case "provider_request_duration_ms":
			m.ProviderLatency.WithLabelValues(endpoint).Observe(value)
		}
	}
}
