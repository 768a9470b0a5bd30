package source

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsight_source_requests_total",
			Help: "Total number of upstream RPC requests",
		},
		[]string{"operation"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainsight_source_request_duration_seconds",
			Help:    "Duration of upstream RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsight_source_request_errors_total",
			Help: "Total number of failed upstream RPC requests",
		},
		[]string{"operation"},
	)

	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsight_source_request_retries_total",
			Help: "Total number of upstream RPC request retries",
		},
		[]string{"operation"},
	)

	remoteHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsight_source_remote_head",
			Help: "Highest remote head height observed",
		},
	)
)

func RequestLog(operation string, duration time.Duration, err error) {
	requests.WithLabelValues(operation).Inc()
	requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		requestErrors.WithLabelValues(operation).Inc()
	}
}

func RequestRetryInc(operation string) {
	requestRetries.WithLabelValues(operation).Inc()
}

func RemoteHeadSet(height uint64) {
	remoteHead.Set(float64(height))
}
