// Package metrics provides Prometheus instrumentation for profilesync.
//
// # Overview
//
// Every metric is registered on the default registry at init through promauto
// and exposed by the serve command on /metrics. The package provides:
//   - Backend call counters and latency histograms, labelled by operation
//   - Upsert outcome counters
//   - Pacer window and batch size gauges
//   - Run-level counters and a throughput tracker
//
// # Basic Usage
//
//	timer := metrics.NewTimer(table.OpPromote)
//	err := backend.PromoteRow(ctx, tab, from, to, values)
//	timer.Observe("ok")
//
//	metrics.ProfilesUpserted.WithLabelValues("changed").Inc()
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "profilesync"

var (
	// BackendCalls counts backend attempts.
	// Labels: op (table operation), result (ok, quota, transient, error)
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend call attempts by operation and result",
		},
		[]string{"op", "result"},
	)

	// BackendLatency tracks the latency of single backend attempts in seconds.
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency of single backend attempts",
			Buckets: []float64{
				0.05, // cached metadata
				0.1,
				0.25,
				0.5, // typical values.update
				1,
				2.5, // batchUpdate with a row move
				5,
				10,
				30, // request timeout
			},
		},
		[]string{"op"},
	)

	// BackendRetries counts retry sleeps by operation and error class.
	BackendRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Retries of backend operations",
		},
		[]string{"op", "class"},
	)

	// ProfilesUpserted counts upsert outcomes.
	// Labels: status (new, changed, unchanged, skipped, failed)
	ProfilesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_upserted_total",
			Help:      "Upsert outcomes by status",
		},
		[]string{"status"},
	)

	// IndexSize is the number of keys held by the record index.
	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_keys",
			Help:      "Keys currently held by the record index",
		},
	)

	// PacerDelay exposes the current pacer window bounds in seconds.
	// Labels: bound (min, max)
	PacerDelay = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pacer_delay_seconds",
			Help:      "Current adaptive pacer window",
		},
		[]string{"bound"},
	)

	// PacerRateLimits counts rate-limit signals fed to the pacer.
	PacerRateLimits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pacer_rate_limits_total",
			Help:      "Rate-limit signals observed by the pacer",
		},
	)

	// BatchSize is the coalescer's current target batch size.
	BatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Current adaptive batch size",
		},
	)

	// BatchFlushes counts coalescer flushes.
	// Labels: reason (size, interval, final)
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Coalescer flushes by trigger",
		},
		[]string{"reason"},
	)

	// DuplicateKeys counts nicknames found on more than one profile row at load.
	DuplicateKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_keys_total",
			Help:      "Duplicate nicknames seen while loading the profile tab",
		},
	)

	// WorklistPending is the number of pending worklist entries at run start.
	WorklistPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worklist_pending",
			Help:      "Pending worklist entries at the start of the last run",
		},
	)

	// Runs counts completed runs.
	// Labels: result (ok, error, locked)
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by result",
		},
		[]string{"result"},
	)

	// RunDuration tracks whole-run wall time in seconds.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		},
	)

	// Throughput tracks processed profiles per second over the last window.
	Throughput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_profiles_per_second",
			Help:      "Processed profiles per second",
		},
	)
)

// ObserveBackendCall records one backend attempt with the caller's
// classification of its result.
func ObserveBackendCall(op string, d time.Duration, result string) {
	BackendCalls.WithLabelValues(op, result).Inc()
	BackendLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Observe stops the timer and records it as one backend call, using the
// timer's name as the op label.
func (t *Timer) Observe(result string) time.Duration {
	d := t.Stop()
	ObserveBackendCall(t.name, d, result)
	return d
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks processed profiles per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker creates a tracker whose window starts now.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n to the count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput of the current window, publishes it
// to the Throughput gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.Set(throughput)
	return throughput
}
