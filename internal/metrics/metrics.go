package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexing metrics
	cursorHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_cursor_height",
			Help: "Highest block height fully indexed and committed",
		},
	)

	blocksCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsight_blocks_committed_total",
			Help: "Total number of blocks applied and committed",
		},
	)

	entriesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsight_index_entries_written_total",
			Help: "Total number of index entries written",
		},
	)

	blockProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsight_block_processing_duration_seconds",
			Help:    "Time taken to fetch, decode, apply and commit one block",
			Buckets: prometheus.DefBuckets,
		},
	)

	indexingLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_indexing_lag_blocks",
			Help: "Distance in blocks between the remote head and the cursor",
		},
	)

	queriesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsight_queries_total",
			Help: "Total number of point-in-time queries served",
		},
		[]string{"outcome"},
	)

	// System metrics
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsight_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsight_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_goroutines",
			Help: "Number of active goroutines",
		},
	)

	memoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsight_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func CursorHeightSet(height uint64) {
	cursorHeight.Set(float64(height))
}

func BlocksCommittedInc() {
	blocksCommitted.Inc()
}

func EntriesWrittenInc(count int) {
	entriesWritten.Add(float64(count))
}

func BlockProcessingTimeLog(duration time.Duration) {
	blockProcessingTime.Observe(duration.Seconds())
}

func IndexingLagSet(lag uint64) {
	indexingLag.Set(float64(lag))
}

func QueryServedInc(outcome string) {
	queriesServed.WithLabelValues(outcome).Inc()
}

func ErrorsInc(component, severity string) {
	errorsTotal.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	componentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
