package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGCRun(t *testing.T) {
	m := New()
	m.RecordGCRun(0.5, 3, 1024)
	m.RecordGCRun(0.1, 1, 10)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.GCRuns))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.GCBlobsDeleted))
	assert.Equal(t, float64(1034), testutil.ToFloat64(m.GCBytesFreed))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AgentEvent(EventSignup)
	m.PostCreated("article")
	m.PostRolledBack("article", "post")
	m.Denied("posts", "create")
	m.RecordGCRun(1, 1, 1)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/articles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/articles/42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/articles/{id}", "404")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.AgentEvent(EventActivated)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `alexander_cms_agents_events_total{event="activated"} 1`))
}
