package storage

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusStorageSave        *prometheus.CounterVec
	prometheusStorageSaveSeconds prometheus.Histogram
	prometheusStorageSavedBytes  prometheus.Counter
	prometheusStorageRead        prometheus.Counter
	prometheusStorageDelete      prometheus.Counter
	prometheusStorageCollected   *prometheus.CounterVec
	prometheusMetricsInitOnce    sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusStorageSave = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "save",
			Help:      "Number of files saved, by whether their content was new or deduplicated",
		},
		[]string{"content"},
	)

	prometheusStorageSaveSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "save_seconds",
			Help:      "Time taken to save a file",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	prometheusStorageSavedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "saved_bytes",
			Help:      "Logical number of bytes saved, before deduplication",
		},
	)

	prometheusStorageRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "read",
			Help:      "Number of files opened for reading",
		},
	)

	prometheusStorageDelete = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "delete",
			Help:      "Number of files deleted",
		},
	)

	prometheusStorageCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "storage",
			Name:      "collected",
			Help:      "Number of file contents and blocks collected after their last reference was deleted",
		},
		[]string{"kind"},
	)
}
