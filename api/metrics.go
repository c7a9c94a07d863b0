/*
metrics.go - Prometheus instrumentation for the HTTP API

PURPOSE:
  Counters and histograms exposed on /metrics. Metric registration uses
  promauto so everything here lands on the default registry that the
  promhttp handler in cmd/server serves.

METRICS:
  hpoints_http_requests_total{method,route,status}
  hpoints_http_request_duration_seconds{method,route}
  hpoints_workout_decisions_total{decision}
  hpoints_redemptions_total{status}
  hpoints_expiration_sweeps_total
  hpoints_expired_entries_total
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hpoints_http_requests_total",
	Help: "HTTP requests by method, route pattern and status code.",
}, []string{"method", "route", "status"})

var httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "hpoints_http_request_duration_seconds",
	Help:    "HTTP request latency by method and route pattern.",
	Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"method", "route"})

var workoutDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hpoints_workout_decisions_total",
	Help: "Workout validation decisions by outcome.",
}, []string{"decision"})

var redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hpoints_redemptions_total",
	Help: "Redemption lifecycle events by status.",
}, []string{"status"})

var expirationSweeps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hpoints_expiration_sweeps_total",
	Help: "Completed background expiration sweeps.",
})

var expiredEntries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hpoints_expired_entries_total",
	Help: "Expiration entries materialized by the sweeper.",
})

// Metrics is chi middleware recording request counts and latency against
// the route pattern rather than the raw path, keeping cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
