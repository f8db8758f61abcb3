// Package metrics provides Prometheus metrics for the EcoVision inference service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Sync attempt outcomes used as label values.
const (
	SyncOutcomeSynced    = "synced"
	SyncOutcomeConflict  = "conflict"
	SyncOutcomeExhausted = "exhausted"
	SyncOutcomeRejected  = "rejected"
	SyncOutcomeCancelled = "cancelled"
)

// Manager manages all Prometheus metrics for the EcoVision service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Pipeline
	samplesProcessed   prometheus.Counter
	inferenceLatency   *prometheus.HistogramVec
	inferenceErrors    prometheus.Counter
	gpuFallbacks       prometheus.Counter
	preprocessErrors   prometheus.Counter
	predictionsByLabel *prometheus.CounterVec

	// Cache
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEntries   prometheus.Gauge
	cacheEvictions prometheus.Counter
	cacheErrors    prometheus.Counter

	// Sync
	syncAttempts  *prometheus.CounterVec
	syncRetries   prometheus.Counter
	syncConflicts prometheus.Counter
	syncLatency   prometheus.Histogram
	syncInFlight  prometheus.Gauge

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ecovision",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	// Pipeline
	m.samplesProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("samples_processed_total"),
		Help:        "Total number of samples that produced a result",
		ConstLabels: constLabels,
	})

	m.inferenceLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("inference_latency_milliseconds"),
			Help:        "Model inference latency in milliseconds by backend",
			Buckets:     m.histogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"backend"},
	)

	m.inferenceErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("inference_errors_total"),
		Help:        "Total number of inferences that failed on every backend",
		ConstLabels: constLabels,
	})

	m.gpuFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("gpu_fallbacks_total"),
		Help:        "Total number of accelerated inferences retried on the CPU",
		ConstLabels: constLabels,
	})

	m.preprocessErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("preprocess_errors_total"),
		Help:        "Total number of samples rejected by preprocessing",
		ConstLabels: constLabels,
	})

	m.predictionsByLabel = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("predictions_total"),
			Help:        "Total number of fresh predictions by label",
			ConstLabels: constLabels,
		},
		[]string{"label"},
	)

	// Cache
	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("cache_hits_total"),
		Help:        "Total number of result cache hits",
		ConstLabels: constLabels,
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("cache_misses_total"),
		Help:        "Total number of result cache misses",
		ConstLabels: constLabels,
	})

	m.cacheEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("cache_entries"),
		Help:        "Current number of cached results",
		ConstLabels: constLabels,
	})

	m.cacheEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("cache_evictions_total"),
		Help:        "Total number of results evicted by age",
		ConstLabels: constLabels,
	})

	m.cacheErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("cache_errors_total"),
		Help:        "Total number of cache storage failures",
		ConstLabels: constLabels,
	})

	// Sync
	m.syncAttempts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("sync_attempts_total"),
			Help:        "Total number of sync attempts by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	m.syncRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_retries_total"),
		Help:        "Total number of upload retries after transient failures",
		ConstLabels: constLabels,
	})

	m.syncConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_conflicts_total"),
		Help:        "Total number of results the backend disagreed with",
		ConstLabels: constLabels,
	})

	m.syncLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_latency_milliseconds"),
		Help:        "Duration of a sync attempt including retries, in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: constLabels,
	})

	m.syncInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_in_flight"),
		Help:        "Number of fingerprints with a sync attempt in progress",
		ConstLabels: constLabels,
	})

	// Queue
	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_size"),
		Help:        "Current number of queued sync jobs",
		ConstLabels: constLabels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_capacity"),
		Help:        "Maximum sync queue capacity",
		ConstLabels: constLabels,
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueue_total"),
		Help:        "Total number of sync jobs enqueued",
		ConstLabels: constLabels,
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_dequeue_total"),
		Help:        "Total number of sync jobs dequeued",
		ConstLabels: constLabels,
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueue_errors_total"),
		Help:        "Total number of sync jobs rejected by a full or closed queue",
		ConstLabels: constLabels,
	})

	// Workers
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_count"),
		Help:        "Number of running sync workers",
		ConstLabels: constLabels,
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_active_count"),
		Help:        "Number of sync workers currently handling a job",
		ConstLabels: constLabels,
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_processing_latency_milliseconds"),
		Help:        "Sync job processing latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: constLabels,
	})

	m.workerErrorRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_errors_total"),
		Help:        "Total number of sync jobs that ended in an error",
		ConstLabels: constLabels,
	})

	// HTTP
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_endpoint_total"),
			Help:        "Total number of errors by endpoint",
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	// System
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "Heap memory in use in bytes",
		ConstLabels: constLabels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: constLabels,
	})
}

// Pipeline Metrics Functions.

// RecordSampleProcessed increments the processed samples counter.
func RecordSampleProcessed() {
	if !globalManager.enabled {
		return
	}
	globalManager.samplesProcessed.Inc()
}

// RecordInferenceLatency records inference latency in milliseconds for a backend.
func RecordInferenceLatency(backend string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.inferenceLatency.WithLabelValues(backend).Observe(latencyMs)
}

// RecordInferenceError increments the inference errors counter.
func RecordInferenceError() {
	if !globalManager.enabled {
		return
	}
	globalManager.inferenceErrors.Inc()
}

// RecordGPUFallback increments the GPU to CPU fallback counter.
func RecordGPUFallback() {
	if !globalManager.enabled {
		return
	}
	globalManager.gpuFallbacks.Inc()
}

// RecordPreprocessError increments the preprocessing errors counter.
func RecordPreprocessError() {
	if !globalManager.enabled {
		return
	}
	globalManager.preprocessErrors.Inc()
}

// RecordPrediction counts a fresh prediction for label.
func RecordPrediction(label string) {
	if !globalManager.enabled {
		return
	}
	globalManager.predictionsByLabel.WithLabelValues(label).Inc()
}

// Cache Metrics Functions.

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	if !globalManager.enabled {
		return
	}
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	if !globalManager.enabled {
		return
	}
	globalManager.cacheMisses.Inc()
}

// UpdateCacheEntries sets the number of cached results.
func UpdateCacheEntries(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.cacheEntries.Set(float64(count))
}

// RecordCacheEvictions adds n evicted results.
func RecordCacheEvictions(n int) {
	if !globalManager.enabled || n <= 0 {
		return
	}
	globalManager.cacheEvictions.Add(float64(n))
}

// RecordCacheError increments the cache error counter.
func RecordCacheError() {
	if !globalManager.enabled {
		return
	}
	globalManager.cacheErrors.Inc()
}

// Sync Metrics Functions.

// RecordSyncAttempt counts a finished sync attempt with its outcome.
func RecordSyncAttempt(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncAttempts.WithLabelValues(outcome).Inc()
}

// RecordSyncRetry increments the sync retry counter.
func RecordSyncRetry() {
	if !globalManager.enabled {
		return
	}
	globalManager.syncRetries.Inc()
}

// RecordSyncConflict increments the sync conflict counter.
func RecordSyncConflict() {
	if !globalManager.enabled {
		return
	}
	globalManager.syncConflicts.Inc()
}

// RecordSyncLatency records the duration of a sync attempt.
func RecordSyncLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncLatency.Observe(latencyMs)
}

// UpdateSyncInFlight sets the number of in-flight sync attempts.
func UpdateSyncInFlight(count int64) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncInFlight.Set(float64(count))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if !globalManager.enabled {
		return
	}
	globalManager.workerErrorRate.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval returns how often gauge-style system metrics should be sampled.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}
