// Package handler provides the HTTP API for Alexander CMS.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/negotiate"
	"github.com/prn-tf/alexander-cms/internal/service"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router handles HTTP routing for the CMS API.
type Router struct {
	agents      *service.AgentService
	containers  *service.ContainerService
	posts       *service.PostService
	negotiator  *negotiate.Negotiator
	authConfig  auth.Config
	metrics     *metrics.Metrics
	metricsPath string
	maxBodySize int64
	health      HealthChecker
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Agents     *service.AgentService
	Containers *service.ContainerService
	Posts      *service.PostService
	Negotiator *negotiate.Negotiator
	AuthConfig auth.Config

	// Metrics is optional. When set, requests are instrumented and
	// MetricsPath is served.
	Metrics *metrics.Metrics

	// MetricsPath defaults to /metrics.
	MetricsPath string

	// MaxBodySize caps request bodies. Zero means 32 MiB.
	MaxBodySize int64

	// Health is optional.
	Health HealthChecker

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 32 << 20
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	return &Router{
		agents:      config.Agents,
		containers:  config.Containers,
		posts:       config.Posts,
		negotiator:  config.Negotiator,
		authConfig:  config.AuthConfig,
		metrics:     config.Metrics,
		metricsPath: config.MetricsPath,
		maxBodySize: config.MaxBodySize,
		health:      config.Health,
		logger:      config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(rt.metrics.Middleware)
	r.Use(auth.Middleware(rt.agents, rt.authConfig))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.writeError(w, r, errRouteNotFound, requestFormat(r, ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.writeError(w, r, errMethodNotAllowed, requestFormat(r, ""))
	})

	// Health check and metrics (no auth)
	r.Get("/health", rt.handleHealth)
	if rt.metrics != nil {
		r.Handle(rt.metricsPath, rt.metrics.Handler())
	}

	posts := newPostHandler(rt)
	newAgentHandler(rt).RegisterRoutes(r)
	newContainerHandler(rt, posts).RegisterRoutes(r)
	posts.RegisterRoutes(r)

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", negotiate.MediaJSON)
	if rt.health != nil {
		if err := rt.health.Health(r.Context()); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// requestLogger logs one line per request with the chi request id.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := rt.logger.Debug()
		if status >= http.StatusInternalServerError {
			event = rt.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
