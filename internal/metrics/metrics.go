package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	tipsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "tips",
			Name:      "sent_total",
			Help:      "Tips submitted to the chain by outcome.",
		},
		[]string{"outcome"},
	)

	feeLegFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "tips",
			Name:      "fee_transfer_failures_total",
			Help:      "Platform fee transfers that failed and need manual reconciliation.",
		},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "transactions",
			Name:      "status_transitions_total",
			Help:      "Transaction status transitions persisted.",
		},
		[]string{"status"},
	)

	recoveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "recovery",
			Name:      "outcomes_total",
			Help:      "Recovery attempts by resulting action.",
		},
		[]string{"action"},
	)

	pendingTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tip_engine",
			Subsystem: "recovery",
			Name:      "pending_transactions",
			Help:      "Pending transactions seen by the last recovery scan.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "notifications",
			Name:      "processed_total",
			Help:      "Notifications processed by outcome.",
		},
		[]string{"outcome"},
	)

	frameActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tip_engine",
			Subsystem: "frame",
			Name:      "actions_total",
			Help:      "Frame actions by resulting phase.",
		},
		[]string{"phase"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		tipsSent,
		feeLegFailures,
		statusTransitions,
		recoveryOutcomes,
		pendingTransactions,
		notifications,
		frameActions,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func TipSent(outcome string) {
	tipsSent.WithLabelValues(outcome).Inc()
}

func FeeTransferFailed() {
	feeLegFailures.Inc()
}

func StatusTransition(status string) {
	statusTransitions.WithLabelValues(status).Inc()
}

func RecoveryOutcome(action string) {
	recoveryOutcomes.WithLabelValues(action).Inc()
}

func SetPending(n int) {
	pendingTransactions.Set(float64(n))
}

func Notification(outcome string, n int) {
	notifications.WithLabelValues(outcome).Add(float64(n))
}

func FrameAction(phase string) {
	frameActions.WithLabelValues(phase).Inc()
}
