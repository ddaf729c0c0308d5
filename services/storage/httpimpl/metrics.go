package httpimpl

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusHTTPRequests    *prometheus.CounterVec
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockvault",
			Subsystem: "http",
			Name:      "requests",
			Help:      "Number of http requests by handler and outcome",
		},
		[]string{
			"handler",
			"status",
		},
	)
}
