// Package metrics exposes Prometheus metrics for the insert pipeline:
// row and block counters, encode and insert latency, in-flight calls, and
// batch window depth. Metrics register into the default registry at
// import time; scrape them with promhttp in the embedding process.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for the status dimension.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// RowsInserted counts rows by table, wire format, and outcome.
	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowforge_rows_inserted_total",
			Help: "Total rows handed to the transport",
		},
		[]string{"table", "format", "status"},
	)

	// BlocksSent counts encoded blocks by table and outcome.
	BlocksSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowforge_blocks_sent_total",
			Help: "Total blocks handed to the transport",
		},
		[]string{"table", "status"},
	)

	// BytesWritten counts body bytes before compression.
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowforge_bytes_written_total",
			Help: "Total encoded body bytes before compression",
		},
		[]string{"table", "format"},
	)

	// InsertDuration tracks whole-call latency including network time.
	InsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowforge_insert_duration_seconds",
			Help:    "Insert call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "format"},
	)

	// EncodeDuration tracks block encode latency, which stays well under
	// the network buckets.
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rowforge_encode_duration_seconds",
			Help: "Block encode duration in seconds",
			Buckets: []float64{
				1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1,
			},
		},
		[]string{"format"},
	)

	// InsertsInFlight gauges concurrently running insert calls.
	InsertsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rowforge_inserts_in_flight",
			Help: "Insert calls currently running",
		},
	)

	// WindowDepth gauges rows buffered in background batch windows.
	WindowDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowforge_window_depth_rows",
			Help: "Rows buffered in the background batch window",
		},
		[]string{"table"},
	)

	// RequestsTotal counts transport requests by HTTP status class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowforge_requests_total",
			Help: "Transport requests by status",
		},
		[]string{"status"},
	)

	// PlanCacheLookups counts plan cache hits and misses.
	PlanCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowforge_plan_cache_lookups_total",
			Help: "Plan cache lookups by result",
		},
		[]string{"result"},
	)
)

// Timer measures one operation. It captures the start time on creation.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveSince records the elapsed seconds since start on the observer.
func ObserveSince(o prometheus.Observer, start time.Time) {
	o.Observe(time.Since(start).Seconds())
}

// ThroughputTracker computes rows per second over reset windows. Safe for
// concurrent use; the bench command reports from it.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker starts an empty tracking window.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n rows to the current window.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset returns the window's rows per second and starts a new
// window.
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
	return throughput
}
