package storage

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK      = "ok"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	// storageOps counts gateway operations by record kind, backend and result.
	storageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Persistence gateway operations by record kind, backend and result.",
		},
		[]string{"op", "backend", "result"},
	)

	// modeGauge is 1 for the current persistence mode and 0 otherwise.
	modeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_mode",
			Help: "Current persistence mode (1 = active).",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(storageOps, modeGauge)
}

func observe(op, backend, result string) {
	storageOps.WithLabelValues(op, backend, result).Inc()
}
