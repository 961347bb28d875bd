package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voyagedesk_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready, buildInfo,
			decisionsTotal, invalidRequestsTotal, auditDroppedTotal,
		)
	})
}

// InitBuildInfo publishes the build labels. Call after Init.
func InitBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures request count, latency and in-flight requests.
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

// idCollections lists the path segments followed by a resource identifier.
var idCollections = map[string][]string{
	"agencies": {"status", "modules", "users"},
	"users":    {"status", "permissions"},
}

// staticPaths are served routes without identifiers.
var staticPaths = map[string]bool{
	"/":              true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/v1/auth/login": true,
	"/v1/me/access":  true,
	"/v1/authorize":  true,
	"/v1/agencies":   true,
}

// OtherPath labels every request that matches no known route.
const OtherPath = "other"

// CanonicalPath folds resource identifiers out of a request path and maps
// unknown paths to OtherPath, so the label set is fixed by the route table.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		raw = "/"
	}
	if staticPaths[raw] {
		return raw
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return OtherPath
	}
	subs, ok := idCollections[parts[1]]
	if !ok || parts[2] == "" {
		return OtherPath
	}
	switch len(parts) {
	case 3:
		return "/v1/" + parts[1] + "/:id"
	case 4:
		for _, s := range subs {
			if parts[3] == s {
				return "/v1/" + parts[1] + "/:id/" + s
			}
		}
	}
	return OtherPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
