// Package metrics exposes Prometheus collectors for the newswire pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal    *prometheus.CounterVec
	discoveriesTotal     *prometheus.CounterVec
	discoveriesDropped   prometheus.Counter
	tasksDroppedTotal    *prometheus.CounterVec
	recordsFlushedTotal  prometheus.Counter
	batchesFlushedTotal  prometheus.Counter
	batchSpillsTotal     prometheus.Counter
	queueDepth           prometheus.Gauge
	activeSessions       prometheus.Gauge
	adaptiveDelaySeconds prometheus.Gauge
	degraded             prometheus.Gauge
	throttleWaitSeconds  prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_pages_fetched_total",
				Help: "Total number of article pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		discoveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_discoveries_total",
				Help: "Total number of new article URLs discovered, labeled by source.",
			},
			[]string{"source"},
		)

		discoveriesDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_discoveries_dropped_total",
				Help: "Discoveries dropped because the crawl queue stayed full past the enqueue timeout.",
			},
		)

		tasksDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_tasks_dropped_total",
				Help: "Crawl tasks dropped after exhausting the retry budget, labeled by reason.",
			},
			[]string{"reason"},
		)

		recordsFlushedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_records_flushed_total",
				Help: "Extraction records written to the data sink.",
			},
		)

		batchesFlushedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_batches_flushed_total",
				Help: "Batches flushed to persistent storage.",
			},
		)

		batchSpillsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_batch_spills_total",
				Help: "Batches diverted to the spill location after repeated write failures.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_queue_depth",
				Help: "Number of crawl tasks currently queued.",
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_active_sessions",
				Help: "Number of browser sessions currently held through the throttle.",
			},
		)

		adaptiveDelaySeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_adaptive_delay_seconds",
				Help: "Current value of the adaptive fetch delay.",
			},
		)

		degraded = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_degraded",
				Help: "1 when any pipeline component has reported degraded health.",
			},
		)

		throttleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newswire_throttle_wait_seconds",
				Help:    "Histogram of time spent waiting for throttle admission.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// IncPagesFetched records a completed page fetch by outcome.
func IncPagesFetched(outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(outcome).Inc()
	}
}

// IncDiscoveries counts a new URL surfaced by a collector source.
func IncDiscoveries(source string) {
	if discoveriesTotal != nil {
		discoveriesTotal.WithLabelValues(source).Inc()
	}
}

// IncDiscoveriesDropped counts a discovery shed at the queue boundary.
func IncDiscoveriesDropped() {
	if discoveriesDropped != nil {
		discoveriesDropped.Inc()
	}
}

// IncTasksDropped counts a crawl task abandoned after retries.
func IncTasksDropped(reason string) {
	if tasksDroppedTotal != nil {
		tasksDroppedTotal.WithLabelValues(reason).Inc()
	}
}

// AddRecordsFlushed counts records written by a sink flush.
func AddRecordsFlushed(n int) {
	if recordsFlushedTotal != nil {
		recordsFlushedTotal.Add(float64(n))
	}
}

// IncBatchesFlushed counts one completed flush.
func IncBatchesFlushed() {
	if batchesFlushedTotal != nil {
		batchesFlushedTotal.Inc()
	}
}

// IncBatchSpills counts one batch persisted to the fallback location.
func IncBatchSpills() {
	if batchSpillsTotal != nil {
		batchSpillsTotal.Inc()
	}
}

// SetQueueDepth publishes the current queue occupancy.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// SetActiveSessions publishes the number of held throttle slots.
func SetActiveSessions(n int) {
	if activeSessions != nil {
		activeSessions.Set(float64(n))
	}
}

// SetAdaptiveDelay publishes the controller's current delay.
func SetAdaptiveDelay(d time.Duration) {
	if adaptiveDelaySeconds != nil {
		adaptiveDelaySeconds.Set(d.Seconds())
	}
}

// SetDegraded publishes the aggregate health flag.
func SetDegraded(isDegraded bool) {
	if degraded == nil {
		return
	}
	if isDegraded {
		degraded.Set(1)
	} else {
		degraded.Set(0)
	}
}

// ObserveThrottleWait records time spent blocked at the throttle gate.
func ObserveThrottleWait(d time.Duration) {
	if throttleWaitSeconds != nil {
		throttleWaitSeconds.Observe(d.Seconds())
	}
}
