package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

type stubAuthenticator struct {
	agents map[string]*domain.Agent
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, login, password string) (*domain.Agent, error) {
	agent, ok := s.agents[login]
	if !ok || password != "secret" {
		return nil, domain.ErrInvalidCredentials
	}
	if !agent.IsActive() {
		return nil, domain.ErrAgentPending
	}
	return agent, nil
}

func newTestServer() (http.Handler, *domain.Actor) {
	var seen domain.Actor
	authn := &stubAuthenticator{agents: map[string]*domain.Agent{
		"quentin": {ID: 1, Login: "quentin", State: domain.AgentActive},
		"aaron":   {ID: 2, Login: "aaron", State: domain.AgentPending},
	}}

	h := Middleware(authn, DefaultConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestMiddleware_Anonymous(t *testing.T) {
	h, seen := newTestServer()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/articles", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, seen.IsAuthenticated())
}

func TestMiddleware_BasicAuth(t *testing.T) {
	h, seen := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/articles", nil)
	req.SetBasicAuth("quentin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), seen.AgentID())
	assert.Equal(t, domain.AuthLoginAndPassword, seen.AuthMode)
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		code   string
	}{
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("quentin", "nope") }, http.StatusUnauthorized, "InvalidCredentials"},
		{"pending agent", func(r *http.Request) { r.SetBasicAuth("aaron", "secret") }, http.StatusUnauthorized, "PendingActivation"},
		{"unsupported scheme", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusBadRequest, "AuthorizationHeaderMalformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer()
			req := httptest.NewRequest(http.MethodGet, "/articles", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}
}

func TestMiddleware_SkipPaths(t *testing.T) {
	h, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer ignored")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	_, err := RequireAuth(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	agent := &domain.Agent{ID: 5}
	got, err := RequireAuth(WithActor(context.Background(), domain.ActorFor(agent, domain.AuthLoginAndPassword)))
	require.NoError(t, err)
	assert.Same(t, agent, got)
}
