package resultcache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "muhost",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Result cache lookups that found an entry",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "muhost",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Result cache lookups that found nothing",
	})
	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "muhost",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Result cache files removed by sweeps",
	})
)

func init() {
	prometheus.MustRegister(cacheHitsTotal, cacheMissesTotal, cacheEvictionsTotal)
}
