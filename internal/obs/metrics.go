package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	claimsReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_claims_reads_total",
		Help: "Claims store reads performed during session reconciliation.",
	})

	sessionInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_invalidations_total",
			Help: "Sessions invalidated during reconciliation, by reason.",
		},
		[]string{"reason"},
	)

	guardDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_guard_denials_total",
			Help: "Authorization guard denials, by code.",
		},
		[]string{"code"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		claimsReadsTotal, sessionInvalidationsTotal, guardDenialsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaimsRead counts one claims store read on the reconciliation path.
func ObserveClaimsRead() {
	claimsReadsTotal.Inc()
}

// ObserveSessionInvalidation counts one credential invalidation.
func ObserveSessionInvalidation(reason string) {
	sessionInvalidationsTotal.WithLabelValues(reason).Inc()
}

// ObserveGuardDenial counts one guard denial by its taxonomy code.
func ObserveGuardDenial(code string) {
	guardDenialsTotal.WithLabelValues(code).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
