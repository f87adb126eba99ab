package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "withdrawal_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// WithdrawalRequests counts withdrawal submissions by outcome.
	WithdrawalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_requests_total",
		Help: "Withdrawal submissions by outcome.",
	}, []string{"outcome"})

	// Payouts counts auto payout attempts by result.
	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_payouts_total",
		Help: "Auto payout attempts by result.",
	}, []string{"result"})

	// Refunds counts balance refunds by reason.
	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_refunds_total",
		Help: "Balance refunds by reason.",
	}, []string{"reason"})

	// ProviderLatency tracks payout provider round trips.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "withdrawal_provider_request_duration_seconds",
		Help:    "Payout provider request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// unmatchedRoute labels requests no chi route matched, keeping label
// cardinality bounded.
const unmatchedRoute = "unmatched"

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
