package fetch

import "github.com/prometheus/client_golang/prometheus"

var FetchesStarted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "histkeep",
	Subsystem: "fetch",
	Name:      "started_total",
	Help:      "Resource fetches started",
})

var FetchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "histkeep",
	Subsystem: "fetch",
	Name:      "results_total",
	Help:      "Finished resource fetches by result",
}, []string{"result"})

var ActiveFetches = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "histkeep",
	Subsystem: "fetch",
	Name:      "active",
	Help:      "Resource fetches in progress",
})

var Evictions = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "histkeep",
	Subsystem: "fetch",
	Name:      "evictions_total",
	Help:      "Local resources moved back to remote",
})

// Collectors returns the coordinator metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{FetchesStarted, FetchResults, ActiveFetches, Evictions}
}
