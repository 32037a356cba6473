package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"service", "method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "path"})

	loanOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_loan_operations_total",
		Help: "Borrow and return attempts by outcome",
	}, []string{"operation", "result"})

	loanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_loan_operation_duration_seconds",
		Help:    "Duration of borrow and return attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_upstream_requests_total",
		Help: "Calls from the borrow coordinator to peer directories",
	}, []string{"peer", "operation", "result"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_upstream_request_duration_seconds",
		Help:    "Duration of calls to peer directories",
		Buckets: prometheus.DefBuckets,
	}, []string{"peer", "operation"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "library_circuit_breaker_state",
		Help: "Circuit breaker state per peer (0=closed, 1=open, 2=half-open)",
	}, []string{"peer"})

	borrowInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_borrow_inconsistencies_total",
		Help: "Borrows whose record write failed after the book was marked unavailable",
	})

	shadowSyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_shadow_sync_failures_total",
		Help: "Failed best-effort loan record pushes to peer directories",
	}, []string{"peer"})

	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_idempotent_replays_total",
		Help: "Borrow requests answered from a completed idempotency key",
	})

	consistencyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_consistency_checks_total",
		Help: "Consistency sweeps by result",
	}, []string{"result"})

	consistencyDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_consistency_discrepancies_total",
		Help: "Active loans whose book is reported available by the books directory",
	})

	activeLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "library_active_loans",
		Help: "Number of active loans seen by the last consistency sweep",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(service, method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(service, method, path, status).Inc()
	httpRequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// ObserveLoanOperation records a borrow or return attempt with its result label.
func ObserveLoanOperation(operation, result string, duration time.Duration) {
	loanOperations.WithLabelValues(operation, result).Inc()
	loanDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveUpstream records one call to a peer directory
func ObserveUpstream(peer, operation, result string, duration time.Duration) {
	upstreamRequests.WithLabelValues(peer, operation, result).Inc()
	upstreamDuration.WithLabelValues(peer, operation).Observe(duration.Seconds())
}

// SetBreakerState publishes the numeric breaker state of a peer
func SetBreakerState(peer string, state int) {
	breakerState.WithLabelValues(peer).Set(float64(state))
}

func IncBorrowInconsistency() {
	borrowInconsistencies.Inc()
}

func IncShadowSyncFailure(peer string) {
	shadowSyncFailures.WithLabelValues(peer).Inc()
}

func IncIdempotentReplay() {
	idempotentReplays.Inc()
}

// ObserveConsistencyCheck records a finished sweep and what it found.
func ObserveConsistencyCheck(result string, active, discrepancies int) {
	consistencyChecks.WithLabelValues(result).Inc()
	if result == "error" {
		return
	}
	activeLoans.Set(float64(active))
	consistencyDiscrepancies.Add(float64(discrepancies))
}
