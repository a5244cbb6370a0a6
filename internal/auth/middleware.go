package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// Authenticator verifies login-and-password credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) (*domain.Agent, error)
}

// Config contains configuration for the auth middleware.
type Config struct {
	// Realm is reported in WWW-Authenticate challenges.
	Realm string

	// SkipPaths are paths that are never authenticated.
	SkipPaths []string
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		Realm:     "Alexander CMS",
		SkipPaths: []string{"/health", "/metrics"},
	}
}

// Middleware resolves the acting agent from HTTP Basic credentials and
// stores it in the request context. Requests without credentials proceed
// as anonymous; the gate decides what they may do.
func Middleware(authn Authenticator, config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), domain.Anonymous())))
				return
			}

			login, password, ok := r.BasicAuth()
			if !ok || strings.TrimSpace(login) == "" {
				writeAuthError(w, config.Realm, ErrInvalidAuthorizationHeader)
				return
			}

			agent, err := authn.Authenticate(r.Context(), login, password)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Str("login", login).Msg("basic authentication failed")
				writeAuthError(w, config.Realm, err)
				return
			}

			actor := domain.ActorFor(agent, domain.AuthLoginAndPassword)
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireAgent rejects anonymous requests with a 401 challenge.
func RequireAgent(realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ActorFromContext(r.Context()).IsAuthenticated() {
				writeAuthError(w, realm, ErrAuthenticationRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes a JSON error with a Basic challenge.
func writeAuthError(w http.ResponseWriter, realm string, err error) {
	authErr := NewAuthError(err)

	if authErr.HTTPStatus == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]*AuthError{"error": authErr})
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

// ActorFromContext returns the resolved actor, or anonymous.
func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(ActorContextKey).(domain.Actor); ok {
		return actor
	}
	return domain.Anonymous()
}

// RequireAuth returns the bound agent or ErrAuthenticationRequired.
func RequireAuth(ctx context.Context) (*domain.Agent, error) {
	actor := ActorFromContext(ctx)
	if !actor.IsAuthenticated() {
		return nil, ErrAuthenticationRequired
	}
	return actor.Agent, nil
}
