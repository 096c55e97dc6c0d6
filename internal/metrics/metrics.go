// Package metrics provides Prometheus instrumentation for the vault engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChainViewLatency tracks view-function round trips by function name.
	ChainViewLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_engine_chain_view_latency_seconds",
		Help:    "Chain view call latency in seconds",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"function"})

	// ChainUnavailable counts reads that came back unavailable.
	ChainUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_chain_unavailable_total",
		Help: "Chain reads that returned an unavailable result",
	}, []string{"function"})

	// RefreshRuns counts refresh runs by resource group and outcome.
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_refresh_runs_total",
		Help: "Refresh runs by group and outcome",
	}, []string{"group", "outcome"})

	// RefreshDropped counts refresh results discarded because a newer
	// generation had already been applied or the scheduler had stopped.
	RefreshDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_refresh_dropped_total",
		Help: "Refresh results discarded as stale",
	}, []string{"group"})

	// WeightedAPY is the blended APY of the current strategy table.
	WeightedAPY = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_engine_weighted_apy_percent",
		Help: "Allocation-weighted APY of active strategies",
	})

	// TotalAssets is the vault's total assets from the latest snapshot.
	TotalAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_engine_vault_total_assets",
		Help: "Vault total assets in MOVE",
	})

	// WatchedAddresses tracks how many positions are refreshed on schedule.
	WatchedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_engine_watched_addresses",
		Help: "Number of user addresses refreshed on schedule",
	})

	// WatchEvictions counts addresses dropped from the watch list.
	WatchEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_watch_evictions_total",
		Help: "Addresses dropped from the watch list, by reason",
	}, []string{"reason"})

	// PayloadsBuilt counts built entry-function payloads by action.
	PayloadsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_payloads_built_total",
		Help: "Entry function payloads built",
	}, []string{"action"})

	// BotMessages counts handled bot messages by command.
	BotMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_bot_messages_total",
		Help: "Bot messages handled by command",
	}, []string{"command"})

	// AdvisorLatency tracks model calls by outcome.
	AdvisorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_engine_advisor_latency_seconds",
		Help:    "AI advisor call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSince records elapsed time on a histogram child.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
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

		// Route patterns keep address path params out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrader take over connections behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
