package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	engineLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muhost",
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Engine loads by backend and reason",
		},
		[]string{"backend", "reason"},
	)

	engineInferenceSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muhost",
			Subsystem: "engine",
			Name:      "inference_seconds",
			Help:      "Duration of engine inference calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(engineLoadsTotal, engineInferenceSeconds)
}
