// Package metrics exposes Prometheus collectors for the buffer pool,
// loading caches, and range-read backends used across this module.
// Instances are constructed independently and wired in wherever a
// component wants instrumentation; none of it is mandatory.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CacheMetrics tracks one named loading cache (byte-range cache or
// directory cache): entry count, byte usage, configured limit, a lookup
// counter split by archive and outcome, and a histogram of load durations.
type CacheMetrics struct {
	entries   prometheus.Gauge
	sizeBytes prometheus.Gauge
	limitBytes prometheus.Gauge
	requests  *prometheus.CounterVec
	loadTime  prometheus.Histogram
}

// PoolMetrics tracks one BufferPool instance: pooled entry count, pooled
// bytes, and created/reused/returned/discarded counters.
type PoolMetrics struct {
	poolSize  prometheus.Gauge
	poolBytes prometheus.Gauge
	events    *prometheus.CounterVec
}

// BackendMetrics tracks requests issued to a rangeio.Reader backend
// (file/http/bucket), split by outcome kind.
type BackendMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func register[K prometheus.Collector](logger *zap.Logger, metric K) K {
	if err := prometheus.Register(metric); err != nil {
		logger.Warn("prometheus registration failed", zap.Error(err))
	}
	return metric
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// NewCacheMetrics registers collectors for a cache named by scope (e.g.
// "range_cache", "dir_cache") under the "pmtiles" namespace.
func NewCacheMetrics(scope string, logger *zap.Logger) *CacheMetrics {
	logger = loggerOrNop(logger)
	return &CacheMetrics{
		entries: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "entries",
			Help: "Number of entries currently cached",
		})),
		sizeBytes: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "size_bytes",
			Help: "Current cache usage in bytes",
		})),
		limitBytes: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "limit_bytes",
			Help: "Configured maximum cache size in bytes",
		})),
		requests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "requests_total",
			Help: "Cache lookups by outcome (hit/miss/error)",
		}, []string{"archive", "status"})),
		loadTime: register(logger, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "load_duration_seconds",
			Help:    "Time spent populating a cache entry on miss",
			Buckets: prometheus.DefBuckets,
		})),
	}
}

// SetLimit records the configured maximum cache size.
func (m *CacheMetrics) SetLimit(limitBytes int64) {
	m.limitBytes.Set(float64(limitBytes))
}

// Update records the current entry count and byte usage.
func (m *CacheMetrics) Update(entries int, sizeBytes int64) {
	m.entries.Set(float64(entries))
	m.sizeBytes.Set(float64(sizeBytes))
}

// RecordLookup records a cache hit/miss outcome for an archive.
func (m *CacheMetrics) RecordLookup(archive, status string) {
	m.requests.WithLabelValues(archive, status).Inc()
}

// ObserveLoad records the wall-clock duration of a cache-miss load.
func (m *CacheMetrics) ObserveLoad(d time.Duration) {
	m.loadTime.Observe(d.Seconds())
}

// NewPoolMetrics registers collectors for a BufferPool named by scope.
func NewPoolMetrics(scope string, logger *zap.Logger) *PoolMetrics {
	logger = loggerOrNop(logger)
	return &PoolMetrics{
		poolSize: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "pool_size",
			Help: "Number of buffers currently pooled",
		})),
		poolBytes: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "pool_bytes",
			Help: "Total capacity of pooled buffers in bytes",
		})),
		events: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "buffer_events_total",
			Help: "Buffer pool lifecycle events by kind (created/reused/returned/discarded)",
		}, []string{"event"})),
	}
}

// Update records a point-in-time snapshot of pool size/bytes.
func (m *PoolMetrics) Update(poolSize int, poolBytes int64) {
	m.poolSize.Set(float64(poolSize))
	m.poolBytes.Set(float64(poolBytes))
}

// RecordEvent increments a lifecycle-event counter ("created", "reused",
// "returned", or "discarded").
func (m *PoolMetrics) RecordEvent(event string) {
	m.events.WithLabelValues(event).Inc()
}

// NewBackendMetrics registers collectors for requests issued to a
// rangeio.Reader backend named by scope (e.g. "file", "http", "bucket").
func NewBackendMetrics(scope string, logger *zap.Logger) *BackendMetrics {
	logger = loggerOrNop(logger)
	return &BackendMetrics{
		requests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "backend_requests_total",
			Help: "Requests issued to the underlying storage backend",
		}, []string{"archive", "status"})),
		duration: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pmtiles", Subsystem: scope, Name: "backend_request_duration_seconds",
			Help:    "Duration of individual requests to the underlying storage backend",
			Buckets: prometheus.DefBuckets,
		}, []string{"archive", "status"})),
	}
}

// Tracker times a single backend request in flight.
type Tracker struct {
	start   time.Time
	metrics *BackendMetrics
	archive string
}

// StartRequest begins timing a backend request for archive.
func (m *BackendMetrics) StartRequest(archive string) *Tracker {
	return &Tracker{start: time.Now(), metrics: m, archive: archive}
}

// Finish records the outcome status and duration of the tracked request.
func (t *Tracker) Finish(status string) {
	t.metrics.requests.WithLabelValues(t.archive, status).Inc()
	t.metrics.duration.WithLabelValues(t.archive, status).Observe(time.Since(t.start).Seconds())
}
