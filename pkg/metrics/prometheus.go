// Package metrics provides Prometheus metrics for the ember engagement service.
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

// Manager manages all Prometheus metrics for the ember service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core Business Metrics - scrap toggles and activity mutations
	scrapToggles      *prometheus.CounterVec
	toggleLatency     prometheus.Histogram
	activityMutations *prometheus.CounterVec
	activityFailures  prometheus.Counter
	listQueries       *prometheus.CounterVec

	// Cross-Store Consistency Metrics
	indexPartialFailures prometheus.Counter
	counterFloorHits     prometheus.Counter

	// Ranking Metrics
	rankUpdates           prometheus.Counter
	rankRecomputeDuration prometheus.Histogram
	cohortRecomputes      prometheus.Counter
	totalUsers            prometheus.Gauge

	// Store Metrics
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram
	indexUpdateLatency      prometheus.Histogram
	indexQueryLatency       prometheus.Histogram

	// Repair Pipeline Metrics
	repairQueueSize        prometheus.Gauge
	repairQueueCapacity    prometheus.Gauge
	repairQueueUtilization prometheus.Gauge
	repairEnqueued         prometheus.Counter
	repairCoalesced        prometheus.Counter
	repairEnqueueErrors    prometheus.Counter
	repairCompleted        prometheus.Counter
	repairErrors           prometheus.Counter
	repairLatency          prometheus.Histogram
	repairWorkerCount      prometheus.Gauge

	// Enhanced Error Metrics
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "ember",
		subsystem:        "engagement",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Core Business Metrics
	m.scrapToggles = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "scrap_toggles_total",
			Help:      "Total number of scrap toggles by category and direction",
		},
		[]string{"category", "direction"},
	)

	m.toggleLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "toggle_latency_milliseconds",
		Help:      "Histogram of end-to-end toggle latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.activityMutations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "activity_mutations_total",
			Help:      "Total number of activity create/delete mutations by category and op",
		},
		[]string{"category", "op"},
	)

	m.activityFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "activity_mutation_failures_total",
		Help:      "Total number of activity mutations that failed partway through the ranking cascade",
	})

	m.listQueries = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "list_queries_total",
			Help:      "Total number of scrap list queries by category and result shape",
		},
		[]string{"category", "shape"},
	)

	// Cross-Store Consistency Metrics
	m.indexPartialFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_partial_failures_total",
		Help:      "Total number of toggles where the index write failed while the relational write succeeded",
	})

	m.counterFloorHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "counter_floor_hits_total",
		Help:      "Total number of decrements clamped at zero (divergence indicator)",
	})

	// Ranking Metrics
	m.rankUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_updates_total",
		Help:      "Total number of single-user rank board updates",
	})

	m.rankRecomputeDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_recompute_duration_milliseconds",
		Help:      "Cohort-wide percentile recompute duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.cohortRecomputes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cohort_recomputes_total",
		Help:      "Total number of cohort-wide percentile recomputations",
	})

	m.totalUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "total_users",
		Help:      "Total number of users tracked on rank boards (business scale)",
	})

	// Store Metrics
	m.repositoryUpdateLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_update_latency_milliseconds",
		Help:      "Relational store update operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.repositoryQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_latency_milliseconds",
		Help:      "Relational store query operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.indexUpdateLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_update_latency_milliseconds",
		Help:      "Document index write latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.indexQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_query_latency_milliseconds",
		Help:      "Document index search latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Repair Pipeline Metrics
	m.repairQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_queue_size",
		Help:      "Current size of the counter repair queue (divergence backlog)",
	})

	m.repairQueueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_queue_capacity",
		Help:      "Maximum repair queue capacity",
	})

	m.repairQueueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_queue_utilization_ratio",
		Help:      "Repair queue utilization ratio (current size / capacity)",
	})

	m.repairEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_enqueued_total",
		Help:      "Total number of repair tasks enqueued",
	})

	m.repairCoalesced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_coalesced_total",
		Help:      "Total number of repair tasks dropped because an identical task was already in flight",
	})

	m.repairEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_enqueue_errors_total",
		Help:      "Total number of repair enqueue failures",
	})

	m.repairCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_completed_total",
		Help:      "Total number of counters re-derived from ownership facts",
	})

	m.repairErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_errors_total",
		Help:      "Total number of repair worker errors",
	})

	m.repairLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_latency_milliseconds",
		Help:      "Repair task processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.repairWorkerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repair_worker_count",
		Help:      "Number of active repair workers",
	})

	// Enhanced Error Metrics
	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// RecordScrapToggle increments the toggle counter for a category and direction
// ("add" or "remove").
func RecordScrapToggle(category, direction string) {
	globalManager.scrapToggles.WithLabelValues(category, direction).Inc()
}

// RecordToggleLatency records end-to-end toggle latency in milliseconds.
func RecordToggleLatency(latencyMs float64) {
	globalManager.toggleLatency.Observe(latencyMs)
}

// RecordActivityMutation increments the activity mutation counter ("create" or "delete").
func RecordActivityMutation(category, op string) {
	globalManager.activityMutations.WithLabelValues(category, op).Inc()
}

// RecordActivityMutationFailure increments the failed-cascade counter.
func RecordActivityMutationFailure() {
	globalManager.activityFailures.Inc()
}

// RecordListQuery increments the list query counter ("count", "page", "empty").
func RecordListQuery(category, shape string) {
	globalManager.listQueries.WithLabelValues(category, shape).Inc()
}

// RecordIndexPartialFailure increments the cross-store divergence counter.
func RecordIndexPartialFailure() {
	globalManager.indexPartialFailures.Inc()
}

// RecordCounterFloorHit increments the floored-decrement counter.
func RecordCounterFloorHit() {
	globalManager.counterFloorHits.Inc()
}

// RecordRankUpdate increments the single-user rank update counter.
func RecordRankUpdate() {
	globalManager.rankUpdates.Inc()
}

// RecordRankRecomputeDuration records a cohort-wide recompute duration.
func RecordRankRecomputeDuration(durationMs float64) {
	globalManager.rankRecomputeDuration.Observe(durationMs)
}

// RecordCohortRecompute increments the cohort recompute counter.
func RecordCohortRecompute() {
	globalManager.cohortRecomputes.Inc()
}

// UpdateTotalUsers sets the total tracked users gauge.
func UpdateTotalUsers(count int) {
	globalManager.totalUsers.Set(float64(count))
}

// RecordRepositoryUpdateLatency records relational store update latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records relational store query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordIndexUpdateLatency records document index write latency.
func RecordIndexUpdateLatency(latencyMs float64) {
	globalManager.indexUpdateLatency.Observe(latencyMs)
}

// RecordIndexQueryLatency records document index search latency.
func RecordIndexQueryLatency(latencyMs float64) {
	globalManager.indexQueryLatency.Observe(latencyMs)
}

// UpdateRepairQueueSize sets the current repair queue size.
func UpdateRepairQueueSize(size int) {
	globalManager.repairQueueSize.Set(float64(size))
}

// UpdateRepairQueueCapacity sets the maximum repair queue capacity.
func UpdateRepairQueueCapacity(capacity int) {
	globalManager.repairQueueCapacity.Set(float64(capacity))
}

// UpdateRepairQueueUtilization sets the repair queue utilization ratio.
func UpdateRepairQueueUtilization(utilization float64) {
	globalManager.repairQueueUtilization.Set(utilization)
}

// RecordRepairEnqueued increments the repair enqueue counter.
func RecordRepairEnqueued() {
	globalManager.repairEnqueued.Inc()
}

// RecordRepairCoalesced increments the coalesced repair counter.
func RecordRepairCoalesced() {
	globalManager.repairCoalesced.Inc()
}

// RecordRepairEnqueueError increments the repair enqueue error counter.
func RecordRepairEnqueueError() {
	globalManager.repairEnqueueErrors.Inc()
}

// RecordRepairCompleted increments the completed repair counter.
func RecordRepairCompleted() {
	globalManager.repairCompleted.Inc()
}

// RecordRepairError increments the repair worker error counter.
func RecordRepairError() {
	globalManager.repairErrors.Inc()
}

// RecordRepairLatency records repair task processing latency.
func RecordRepairLatency(latencyMs float64) {
	globalManager.repairLatency.Observe(latencyMs)
}

// UpdateRepairWorkerCount sets the number of active repair workers.
func UpdateRepairWorkerCount(count int) {
	globalManager.repairWorkerCount.Set(float64(count))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
