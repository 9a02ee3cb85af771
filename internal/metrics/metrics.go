// Package metrics exposes the Prometheus instrumentation for the HTTP
// surface, the generation pipeline and the poll loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelforge_http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelforge_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelforge_generations_total",
			Help: "Generation attempts by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelforge_generation_duration_seconds",
			Help:    "Synchronous generation latency by engine.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"engine"},
	)
	pollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixelforge_poll_cycle_duration_seconds",
			Help:    "Duration of one poll cycle over all pending tasks.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pendingTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelforge_pending_tasks",
			Help: "Async tasks currently awaiting a terminal state.",
		},
	)
	queueInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelforge_queue_in_flight",
			Help: "Submission queue items currently dispatched.",
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelforge_queue_depth",
			Help: "Submission queue items waiting for a slot.",
		},
	)
	creditsSpentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pixelforge_credits_spent_total",
			Help: "Credits debited for confirmed generations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		generationsTotal,
		generationDuration,
		pollCycleDuration,
		pendingTasks,
		queueInFlight,
		queueDepth,
		creditsSpentTotal,
	)
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one handled request.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveGeneration records one generation attempt outcome.
func ObserveGeneration(engine, outcome string, duration time.Duration) {
	generationsTotal.WithLabelValues(engine, outcome).Inc()
	if duration > 0 {
		generationDuration.WithLabelValues(engine).Observe(duration.Seconds())
	}
}

// ObservePollCycle records one sweep over the pending tasks.
func ObservePollCycle(duration time.Duration, pending int) {
	pollCycleDuration.Observe(duration.Seconds())
	pendingTasks.Set(float64(pending))
}

// SetQueueGauges reports the submission queue occupancy.
func SetQueueGauges(inFlight, depth int) {
	queueInFlight.Set(float64(inFlight))
	queueDepth.Set(float64(depth))
}

// CreditSpent counts one debited credit.
func CreditSpent() {
	creditsSpentTotal.Inc()
}
