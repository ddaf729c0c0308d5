package locks

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLocksAcquired   prometheus.Counter
	prometheusLocksWait       prometheus.Histogram
	prometheusLocksTimeouts   prometheus.Counter
	prometheusLocksTakeovers  prometheus.Counter
	prometheusLocksRequeued   prometheus.Counter
	prometheusLocksReleased   *prometheus.CounterVec
	prometheusLocksReaped     *prometheus.CounterVec
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLocksAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "acquired",
			Help:      "Number of locks acquired",
		},
	)

	prometheusLocksWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a lock",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	prometheusLocksTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "timeouts",
			Help:      "Number of lock waits that timed out",
		},
	)

	prometheusLocksTakeovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "takeovers",
			Help:      "Number of locks forcibly cleared after a timeout",
		},
	)

	prometheusLocksRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "requeued",
			Help:      "Number of tickets re-enqueued because their ticket file was replaced",
		},
	)

	prometheusLocksReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "released",
			Help:      "Number of unlock calls by outcome",
		},
		[]string{"outcome"},
	)

	prometheusLocksReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "locks",
			Name:      "reaped",
			Help:      "Number of lock artifacts reclaimed by the reaper",
		},
		[]string{"kind"},
	)
}
