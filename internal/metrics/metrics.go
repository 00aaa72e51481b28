// Package metrics provides Prometheus metrics for the image-manager core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Navigation metrics
	navMovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_nav_moves_total",
			Help: "Total navigation moves processed",
		},
		[]string{"direction", "outcome"},
	)

	navResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagemanager_nav_resolve_duration_seconds",
			Help:    "Time to resolve the target record of a navigation move",
			Buckets: prometheus.DefBuckets,
		},
	)

	navPendingDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_nav_pending_dropped_total",
			Help: "Navigation intents dropped because the pending queue was full",
		},
	)

	// Batch loader metrics
	loaderBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_loader_batches_total",
			Help: "Total batched metadata fetches dispatched",
		},
	)

	loaderBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagemanager_loader_batch_size",
			Help:    "Number of paths per dispatched batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		},
	)

	loaderDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_loader_dedup_hits_total",
			Help: "Load calls coalesced onto an already in-flight fetch",
		},
	)

	loaderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_loader_failures_total",
			Help: "Per-path metadata fetch failures",
		},
		[]string{"kind"},
	)

	// Scheduler metrics
	schedActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagemanager_sched_active_requests",
			Help: "Requests currently executing under the concurrency cap",
		},
	)

	schedQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagemanager_sched_queued_requests",
			Help: "Requests waiting in the scheduler queue",
		},
	)

	schedCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_sched_completions_total",
			Help: "Scheduler request completions by outcome",
		},
		[]string{"outcome"},
	)

	schedPreemptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_sched_preemptions_total",
			Help: "Active requests cancelled to admit higher-priority work",
		},
	)

	// Resource cache metrics
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagemanager_cache_entries",
			Help: "Decoded resources currently cached",
		},
	)

	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_cache_hits_total",
			Help: "Resource cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemanager_cache_misses_total",
			Help: "Resource cache misses",
		},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_cache_evictions_total",
			Help: "Resource cache evictions by reason",
		},
		[]string{"reason"},
	)

	// Preload metrics
	preloadScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_preload_scheduled_total",
			Help: "Paths scheduled for predictive preload",
		},
		[]string{"priority"},
	)

	// Persistent metadata cache metrics
	metaCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemanager_metacache_lookups_total",
			Help: "Persistent metadata cache lookups",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordNavMove records a processed navigation move.
func RecordNavMove(direction, outcome string) {
	navMovesTotal.WithLabelValues(direction, outcome).Inc()
}

// RecordNavResolve records the duration of a target-record resolution.
func RecordNavResolve(duration time.Duration) {
	navResolveDuration.Observe(duration.Seconds())
}

// RecordNavPendingDropped records a dropped navigation intent.
func RecordNavPendingDropped() {
	navPendingDropped.Inc()
}

// RecordLoaderBatch records a dispatched batch and its size.
func RecordLoaderBatch(size int) {
	loaderBatchesTotal.Inc()
	loaderBatchSize.Observe(float64(size))
}

// RecordLoaderDedupHit records a load call joined to an in-flight fetch.
func RecordLoaderDedupHit() {
	loaderDedupHits.Inc()
}

// RecordLoaderFailure records a per-path fetch failure.
func RecordLoaderFailure(kind string) {
	loaderFailures.WithLabelValues(kind).Inc()
}

// SetSchedActive sets the number of executing scheduler requests.
func SetSchedActive(count int) {
	schedActive.Set(float64(count))
}

// SetSchedQueued sets the number of queued scheduler requests.
func SetSchedQueued(count int) {
	schedQueued.Set(float64(count))
}

// RecordSchedCompletion records a scheduler request completion.
func RecordSchedCompletion(outcome string) {
	schedCompletions.WithLabelValues(outcome).Inc()
}

// RecordSchedPreemption records a preempted active request.
func RecordSchedPreemption() {
	schedPreemptions.Inc()
}

// SetCacheEntries sets the current resource cache size.
func SetCacheEntries(count int) {
	cacheEntries.Set(float64(count))
}

// RecordCacheHit records a resource cache hit.
func RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a resource cache miss.
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordCacheEviction records an eviction and its reason.
func RecordCacheEviction(reason string) {
	cacheEvictions.WithLabelValues(reason).Inc()
}

// RecordPreloadScheduled records a path scheduled for preload.
func RecordPreloadScheduled(priority string) {
	preloadScheduled.WithLabelValues(priority).Inc()
}

// RecordMetaCacheLookup records a persistent metadata cache lookup result.
func RecordMetaCacheLookup(result string) {
	metaCacheLookups.WithLabelValues(result).Inc()
}
