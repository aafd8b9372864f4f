package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	pollLoopsActive   prometheus.Gauge
	pollOutcomesTotal *prometheus.CounterVec
	verdictsTotal     *prometheus.CounterVec
	recapBuildSeconds *prometheus.HistogramVec
	recapCacheTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praktikum_requests_total",
			Help: "Total number of praktikum API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "praktikum_latency_seconds",
			Help:    "Latency distribution for praktikum API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praktikum_errors_total",
			Help: "Total number of error responses returned by praktikum endpoints.",
		}, []string{"method", "route", "status"})

		pollLoopsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "praktikum_poll_loops_active",
			Help: "Submission poll loops currently running.",
		})

		pollOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praktikum_poll_outcomes_total",
			Help: "Poll loops that finished, by outcome.",
		}, []string{"outcome"})

		verdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praktikum_verdicts_total",
			Help: "Submissions that reached a terminal status.",
		}, []string{"status"})

		recapBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "praktikum_recap_build_seconds",
			Help:    "Time spent computing recaps.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"scope"})

		recapCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praktikum_recap_cache_total",
			Help: "Class recap cache lookups, by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			pollLoopsActive, pollOutcomesTotal, verdictsTotal,
			recapBuildSeconds, recapCacheTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// PollLoopsActive tracks running submission poll loops.
func PollLoopsActive() prometheus.Gauge {
	RegisterMetrics()
	return pollLoopsActive
}

// PollOutcomes counts finished poll loops.
func PollOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return pollOutcomesTotal
}

// Verdicts counts terminal submission statuses.
func Verdicts() *prometheus.CounterVec {
	RegisterMetrics()
	return verdictsTotal
}

// RecapBuild observes recap computation time.
func RecapBuild() *prometheus.HistogramVec {
	RegisterMetrics()
	return recapBuildSeconds
}

// RecapCache counts class recap cache hits and misses.
func RecapCache() *prometheus.CounterVec {
	RegisterMetrics()
	return recapCacheTotal
}
