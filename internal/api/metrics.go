package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepanel_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitepanel_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	loginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepanel_login_attempts_total",
		Help: "Login attempts by result: success, invalid, malformed, throttled, misconfigured.",
	}, []string{"result"})

	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepanel_rate_limited_total",
		Help: "Requests denied by the rate limiter, by scope.",
	}, []string{"scope"})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitepanel_active_sessions",
		Help: "Number of live admin sessions, refreshed on login and logout.",
	})

	contentWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepanel_content_writes_total",
		Help: "Successful content section writes.",
	}, []string{"section"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, loginAttemptsTotal, rateLimitedTotal, activeSessions, contentWritesTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics, labelled by route pattern so
// arbitrary paths cannot blow up label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, route, status).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(dur)
	})
}
