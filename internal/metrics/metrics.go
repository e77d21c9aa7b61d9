// Package metrics provides Prometheus instrumentation for the vault ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VaultsCreated counts vaults minted by the factory.
	VaultsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_ledger_vaults_created_total",
		Help: "Total number of vaults created",
	})

	// ActiveVaults tracks vaults currently in the Active state.
	ActiveVaults = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_ledger_active_vaults",
		Help: "Number of vaults in the Active state",
	})

	// Deposits counts accepted deposits.
	Deposits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_ledger_deposits_total",
		Help: "Total number of vault deposits",
	})

	// TradesTotal counts trades executed, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_ledger_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// Completions counts completed vaults by outcome (profit, loss, flat).
	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_ledger_completions_total",
		Help: "Total number of completed vaults",
	}, []string{"outcome"})

	// Pauses counts paused vaults.
	Pauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_ledger_pauses_total",
		Help: "Total number of paused vaults",
	})

	// Withdrawals counts successful withdrawals.
	Withdrawals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_ledger_withdrawals_total",
		Help: "Total number of withdrawals",
	})

	// Rejections counts ledger calls rejected by a precondition, by error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_ledger_rejections_total",
		Help: "Ledger calls rejected, partitioned by operation and error kind",
	}, []string{"op", "kind"})

	// OperationLatency tracks ledger call latency by operation.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_ledger_operation_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// RegisteredTraders tracks the number of registered traders.
	RegisteredTraders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_ledger_registered_traders",
		Help: "Number of registered traders",
	})

	// ReputationUpdates counts reputation updates by direction (up, down, flat).
	ReputationUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_ledger_reputation_updates_total",
		Help: "Trader reputation updates",
	}, []string{"direction"})

	// HTTPRequestsTotal counts ops endpoint requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Observe records the latency of op and, if err is non-nil, counts a
// rejection labelled by kind(err).
func Observe(op string, start time.Time, err error, kind func(error) string) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		Rejections.WithLabelValues(op, kind(err)).Inc()
	}
}

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

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
