package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	passthroughTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "muhost",
		Name:      "passthrough_total",
		Help:      "Enhance requests answered with the original image",
	}, []string{"reason"})
	enhanceSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "muhost",
		Name:      "enhance_seconds",
		Help:      "End-to-end enhance latency by result",
		Buckets:   []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(passthroughTotal, enhanceSeconds)
}
