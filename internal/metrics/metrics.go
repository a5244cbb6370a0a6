// Package metrics holds the Prometheus collectors of the CMS server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alexander_cms"

// Agent lifecycle events counted by AgentEvents.
const (
	EventSignup         = "signup"
	EventActivated      = "activated"
	EventResetRequested = "reset_requested"
	EventPasswordReset  = "password_reset"
	EventNotifyFailed   = "notify_failed"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	AgentEvents  *prometheus.CounterVec
	PostsCreated *prometheus.CounterVec
	PostsFailed  *prometheus.CounterVec
	GateDenials  *prometheus.CounterVec

	GCRuns         prometheus.Counter
	GCDuration     prometheus.Histogram
	GCBlobsDeleted prometheus.Counter
	GCBytesFreed   prometheus.Counter
	GCOrphanBlobs  prometheus.Gauge
	GCLastRunTime  prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		AgentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "events_total",
			Help:      "Agent lifecycle transitions.",
		}, []string{"event"}),

		PostsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "posts",
			Name:      "created_total",
			Help:      "Posts committed, by content type.",
		}, []string{"content_type"}),

		PostsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "posts",
			Name:      "rolled_back_total",
			Help:      "Post creations rolled back, by content type and stage.",
		}, []string{"content_type", "stage"}),

		GateDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "denials_total",
			Help:      "Capability gate denials.",
		}, []string{"resource", "action"}),

		GCRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Completed blob garbage collection runs.",
		}),

		GCDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "run_duration_seconds",
			Help:      "Blob garbage collection run time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		GCBlobsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "blobs_deleted_total",
			Help:      "Orphan payload blobs deleted.",
		}),

		GCBytesFreed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "bytes_freed_total",
			Help:      "Bytes reclaimed from deleted payload blobs.",
		}),

		GCOrphanBlobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "orphan_blobs",
			Help:      "Orphan blobs found in the last run.",
		}),

		GCLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AgentEvent counts one lifecycle event.
func (m *Metrics) AgentEvent(event string) {
	if m == nil {
		return
	}
	m.AgentEvents.WithLabelValues(event).Inc()
}

// PostCreated counts a committed post.
func (m *Metrics) PostCreated(contentType string) {
	if m == nil {
		return
	}
	m.PostsCreated.WithLabelValues(contentType).Inc()
}

// PostRolledBack counts a creation that failed at stage ("content", "post", "store").
func (m *Metrics) PostRolledBack(contentType, stage string) {
	if m == nil {
		return
	}
	m.PostsFailed.WithLabelValues(contentType, stage).Inc()
}

// Denied counts a gate denial.
func (m *Metrics) Denied(resource, action string) {
	if m == nil {
		return
	}
	m.GateDenials.WithLabelValues(resource, action).Inc()
}

// RecordGCRun records a finished garbage collection run.
func (m *Metrics) RecordGCRun(seconds float64, deleted int, bytesFreed int64) {
	if m == nil {
		return
	}
	m.GCRuns.Inc()
	m.GCDuration.Observe(seconds)
	m.GCBlobsDeleted.Add(float64(deleted))
	m.GCBytesFreed.Add(float64(bytesFreed))
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
