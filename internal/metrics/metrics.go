// Package metrics provides Prometheus instrumentation for the round engine.
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
	// TradesTotal counts total trades executed, partitioned by type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumparena_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// TradeRejections counts trades rejected during validation, by code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumparena_trade_rejections_total",
		Help: "Trades rejected during validation",
	}, []string{"code"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pumparena_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeConflicts counts optimistic commit conflicts that were retried.
	TradeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumparena_trade_conflicts_total",
		Help: "Trade commits retried after a version conflict",
	})

	// ActiveRounds tracks the number of active rounds.
	ActiveRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumparena_active_rounds",
		Help: "Number of currently active rounds",
	})

	// RoundsSettled counts settled rounds by final status.
	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumparena_rounds_settled_total",
		Help: "Rounds settled, by final status",
	}, []string{"status"})

	// HouseSweepSol accumulates SOL swept to the house across settlements.
	HouseSweepSol = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumparena_house_sweep_sol_total",
		Help: "Cumulative SOL swept to the house account",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumparena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumparena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pumparena_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
