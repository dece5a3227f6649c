// Package metrics provides Prometheus instrumentation for the risk engine.
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
	// TradesTotal counts executed trades, partitioned by AMM variant
	// and direction.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"variant", "direction"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant"})

	// SolverIterations records Newton-Raphson iteration counts per
	// solve; the mean should hover in the 3–5 band.
	SolverIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_solver_iterations",
		Help:    "Newton-Raphson iterations per price solve",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	})

	// IntegrationPasses records Simpson refinement passes per density
	// integration.
	IntegrationPasses = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_integration_passes",
		Help:    "Simpson refinement passes per density integration",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	// CoverageRatio tracks the latest coverage ratio per market.
	CoverageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_coverage_ratio",
		Help: "Vault coverage ratio per market",
	}, []string{"market_id"})

	// CoverageHalts counts halt-latch activations.
	CoverageHalts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_coverage_halts_total",
		Help: "Coverage halt activations",
	})

	// LiquidationsTotal counts liquidation slices, partitioned by
	// outcome (executed vs capped no-op).
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_liquidations_total",
		Help: "Liquidation calls by outcome",
	}, []string{"outcome"})

	// LiquidatedNotional accumulates liquidated notional per market.
	LiquidatedNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_liquidated_notional_total",
		Help: "Cumulative liquidated notional",
	}, []string{"market_id"})

	// ActiveMarkets tracks the number of active markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_active_markets",
		Help: "Number of currently active markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
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
