package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsight_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
	)

	reorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsight_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	reorgLastDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
	)

	trackedBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_tracked_blocks",
			Help: "Number of block hashes currently retained for reorg detection",
		},
	)
)

func ReorgDetectedLog(depth uint64) {
	reorgsDetected.Inc()
	reorgDepth.Observe(float64(depth))
	reorgLastDetected.Set(float64(time.Now().UTC().Unix()))
}

func TrackedBlocksSet(count int64) {
	trackedBlocks.Set(float64(count))
}
