package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		telegramCommandsReceivedTotal,
		invalidationsReceivedTotal,
	)
}

var (
	telegramCommandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_commands_received_total",
			Help: "Counts incoming commands to the launcher bot.",
		},
		[]string{"command"},
	)

	invalidationsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_received_total",
			Help: "Invalidation messages received from the bus by scope.",
		},
		[]string{"scope"},
	)
)

func IncTelegramCommand(command string) {
	telegramCommandsReceivedTotal.WithLabelValues(norm(command)).Inc()
}

func IncInvalidation(scope string) {
	invalidationsReceivedTotal.WithLabelValues(norm(scope)).Inc()
}
