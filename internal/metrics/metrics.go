// Package metrics holds the Prometheus collectors for the API and the sync
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	SalesCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_sales_committed_total",
		Help: "Sales confirmed by the remote ledger",
	})

	SalesQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_sales_queued_total",
		Help: "Sales written to the pending queue",
	})

	DrainsHalted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_drains_halted_total",
		Help: "Drains stopped early by a remote failure",
	})

	DebtFollowUps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_debt_followups_total",
		Help: "Committed credit sales whose debt could not be created",
	})

	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_ledger_online",
		Help: "1 when the remote ledger is reachable",
	})
)

// RegisterHTTP registers the request collectors.
func RegisterHTTP(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
}

// RegisterSync registers the sync engine collectors.
func RegisterSync(reg prometheus.Registerer) {
	reg.MustRegister(SalesCommitted, SalesQueued, DrainsHalted, DebtFollowUps, Online)
}

// Middleware records request counts and latency by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)

		path := "undefined"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
	})
}
