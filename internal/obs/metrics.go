package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
)

// Auth-specific metrics.
var (
	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetrai_auth_outcomes_total",
			Help: "Authentication attempts by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	hashInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vetrai_password_hash_in_flight",
		Help: "Password hash computations currently running.",
	})

	hashWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vetrai_password_hash_wait_seconds",
		Help:    "Time spent waiting for a password hashing slot.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5},
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authOutcomes, hashInFlight, hashWait,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuth counts one authentication outcome, e.g. ("login", "ok").
func RecordAuth(op, outcome string) {
	authOutcomes.WithLabelValues(op, outcome).Inc()
}

// HashStarted marks a hash computation as running and records how long it waited.
func HashStarted(wait time.Duration) {
	hashWait.Observe(wait.Seconds())
	hashInFlight.Inc()
}

// HashFinished marks a hash computation as done.
func HashFinished() {
	hashInFlight.Dec()
}

var knownPaths = map[string]struct{}{
	"/api/auth/login":   {},
	"/api/auth/refresh": {},
	"/api/auth/logout":  {},
	"/api/auth/me":      {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			path = path[:i]
			break
		}
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	if path == "/" {
		return path
	}
	return "other"
}

// Instrument wraps next with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
