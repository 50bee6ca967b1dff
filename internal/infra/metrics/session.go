package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sessionsActive,
		loginsTotal,
		sessionsExpiredTotal,
	)
}

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "miniapp_sessions_active",
			Help: "Number of live Mini App sessions.",
		},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniapp_logins_total",
			Help: "Mini App login attempts by result.",
		},
		[]string{"result"},
	)

	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miniapp_sessions_expired_total",
			Help: "Sessions removed by the idle sweeper.",
		},
	)
)

func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

func IncLogin(result string) {
	loginsTotal.WithLabelValues(norm(result)).Inc()
}

func AddSessionsExpired(n int) {
	sessionsExpiredTotal.Add(float64(n))
}
