package blocks

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlocksWritten      prometheus.Counter
	prometheusBlocksDeduplicated prometheus.Counter
	prometheusBlocksBytesWritten prometheus.Counter
	prometheusBlocksRemoved      prometheus.Counter
	prometheusBlocksSwept        *prometheus.CounterVec
	prometheusMetricsInitOnce    sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlocksWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "blocks",
			Name:      "written",
			Help:      "Number of new blocks written to disk",
		},
	)

	prometheusBlocksDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "blocks",
			Name:      "deduplicated",
			Help:      "Number of blocks reused instead of written",
		},
	)

	prometheusBlocksBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "blocks",
			Name:      "bytes_written",
			Help:      "Number of block bytes written to disk",
		},
	)

	prometheusBlocksRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "blocks",
			Name:      "removed",
			Help:      "Number of block files removed after their last reference was deleted",
		},
	)

	prometheusBlocksSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "blocks",
			Name:      "swept",
			Help:      "Number of blocks reclaimed by the reconciliation sweep",
		},
		[]string{"kind"},
	)
}
