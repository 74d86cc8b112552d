package gap

import "github.com/prometheus/client_golang/prometheus"

var ResolutionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "histkeep",
	Subsystem: "gap",
	Name:      "resolutions_total",
	Help:      "Finished gap resolutions by outcome",
}, []string{"outcome"})

var FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "histkeep",
	Subsystem: "gap",
	Name:      "fetch_attempts_total",
	Help:      "Range fetch attempts by result kind",
}, []string{"result"})

var ResolutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "histkeep",
	Subsystem: "gap",
	Name:      "resolutions_in_flight",
	Help:      "Resolutions currently fetching or backing off",
})

var FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "histkeep",
	Subsystem: "gap",
	Name:      "fetch_duration_seconds",
	Help:      "Duration of range fetches",
	Buckets:   prometheus.DefBuckets,
})

// Collectors returns the resolver metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{ResolutionCount, FetchAttempts, ResolutionsInFlight, FetchDuration}
}
