package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "registry_sync",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry_sync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "registry_sync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry_sync",
			Subsystem: "sync",
			Name:      "task_runs_total",
			Help:      "Total number of sync task invocations.",
		},
		[]string{"task", "success"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "registry_sync",
			Subsystem: "sync",
			Name:      "task_duration_seconds",
			Help:      "Duration of sync task invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"task"},
	)

	manifestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry_sync",
			Subsystem: "manifest",
			Name:      "fetch_failures_total",
			Help:      "Manifest fetch failures by failing stage.",
		},
		[]string{"stage"},
	)

	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "registry_sync",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries in the published lookup cache snapshot.",
		},
		[]string{"cache"},
	)

	ledgerCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "registry_sync",
			Subsystem: "ledger",
			Name:      "count",
			Help:      "Last observed number of ledger entries.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		taskRuns,
		taskDuration,
		manifestFailures,
		cacheEntries,
		ledgerCount,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTaskRun records one invocation of a sync task.
func RecordTaskRun(task string, duration time.Duration, success bool) {
	if task == "" {
		task = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	taskRuns.WithLabelValues(task, strconv.FormatBool(success)).Inc()
	taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordManifestFailure counts a failed manifest fetch by stage.
func RecordManifestFailure(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	manifestFailures.WithLabelValues(stage).Inc()
}

// SetCacheEntries publishes the size of a cache snapshot.
func SetCacheEntries(cache string, n int) {
	cacheEntries.WithLabelValues(cache).Set(float64(n))
}

// SetLedgerCount publishes the last observed ledger size.
func SetLedgerCount(n int64) {
	ledgerCount.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-domain paths so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "app", "onchain":
		if len(parts) > 1 {
			return "/" + parts[0] + "/:domain"
		}
	case "reload":
		if len(parts) > 2 {
			return "/reload/" + parts[1] + "/:domain"
		}
	case "private":
		if len(parts) > 1 {
			return "/private/" + parts[1]
		}
	}
	return "/" + parts[0]
}
