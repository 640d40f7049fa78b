package intake

import "github.com/prometheus/client_golang/prometheus"

var (
	// transitions counts screen changes by source and destination.
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_screen_transitions_total",
			Help: "Screen transitions by source and destination screen.",
		},
		[]string{"from", "to"},
	)

	// staleResults counts collaborator results dropped because the session
	// had moved on before they arrived.
	staleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_stale_results_total",
			Help: "Collaborator results discarded after the session navigated away.",
		},
		[]string{"action"},
	)

	// activeSessions is the number of sessions held by registries.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_sessions_active",
			Help: "Sessions currently held in memory.",
		},
	)
)

func init() {
	prometheus.MustRegister(transitions, staleResults, activeSessions)
}
