package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheDroppedResultsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_requests_total",
			Help: "Query cache lookups by client and result (hit, miss, join).",
		},
		[]string{"cache", "result"},
	)

	cacheDroppedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_dropped_results_total",
			Help: "Fetch results discarded because their key generation was superseded or abandoned.",
		},
		[]string{"cache", "scope"},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncCacheDropped(cacheName, scope string) {
	cacheDroppedResultsTotal.WithLabelValues(norm(cacheName), norm(scope)).Inc()
}
