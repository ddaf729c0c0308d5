package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusCacheGet        *prometheus.CounterVec
	prometheusCachePut        prometheus.Counter
	prometheusCacheRemove     prometheus.Counter
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusCacheGet = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "cache",
			Name:      "get",
			Help:      "Number of cache lookups by result",
		},
		[]string{"result"},
	)

	prometheusCachePut = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "cache",
			Name:      "put",
			Help:      "Number of cache writes",
		},
	)

	prometheusCacheRemove = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "cache",
			Name:      "remove",
			Help:      "Number of cache entries removed",
		},
	)
}
