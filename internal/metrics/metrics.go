// Package metrics provides Prometheus instrumentation for the rebalancing engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VenueDeposits counts venue deposit legs, partitioned by denom and result.
	VenueDeposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlm_venue_deposits_total",
		Help: "Total venue deposit legs executed",
	}, []string{"denom", "result"})

	// VenueWithdrawals counts venue withdrawal legs, partitioned by denom and result.
	VenueWithdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlm_venue_withdrawals_total",
		Help: "Total venue withdrawal legs executed",
	}, []string{"denom", "result"})

	// RebalanceOperations counts engine operations by kind and outcome.
	RebalanceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlm_rebalance_operations_total",
		Help: "Total rebalancing operations processed",
	}, []string{"operation", "result"})

	// StuckPositions tracks the current size of the recovery worklist.
	StuckPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rlm_stuck_positions",
		Help: "Number of positions currently on the recovery worklist",
	})

	// RecoveredPositions counts positions cleared by the recovery sweep.
	RecoveredPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlm_recovered_positions_total",
		Help: "Positions successfully recovered from the stuck state",
	})

	// AuditFailures counts accounting validations that exceeded the tolerance.
	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlm_audit_failures_total",
		Help: "Accounting validations exceeding the allowed discrepancy",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rlm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePath(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePath resolves the mux route template (e.g. /api/positions/{id}) so
// path-parameter values don't explode the label cardinality. Falls back to the
// raw path for requests that didn't match a route.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
