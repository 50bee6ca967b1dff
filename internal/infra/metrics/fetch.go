package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(backendFetchTotal, backendFetchLatencyMs) }

var (
	backendFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_fetch_total",
			Help: "Fetches issued to the warehouse backend by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	backendFetchLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_fetch_latency_ms",
			Help:    "Warehouse backend fetch latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"scope", "success"},
	)
)

func ObserveFetch(scope, outcome string, latencyMs int64, success bool) {
	backendFetchTotal.WithLabelValues(norm(scope), norm(outcome)).Inc()
	backendFetchLatencyMs.WithLabelValues(norm(scope), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
