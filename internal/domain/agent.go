// Package domain contains the core business entities for Alexander CMS.
// These are pure Go structs with no external dependencies, representing
// the fundamental concepts of the content publishing core.
package domain

import (
	"time"
)

// AgentState is the activation state of an agent.
type AgentState string

const (
	// AgentPending means activation is required and has not happened yet.
	AgentPending AgentState = "pending"

	// AgentActive means the agent can authenticate and post.
	AgentActive AgentState = "active"
)

// AuthMode names a way an agent type lets its agents authenticate.
type AuthMode string

const (
	// AuthLoginAndPassword authenticates with login (or email) and a password.
	AuthLoginAndPassword AuthMode = "login_and_password"

	// AuthOpenID authenticates through an OpenID identifier.
	AuthOpenID AuthMode = "openid"
)

// Agent represents an authenticable actor.
// Exactly one of PasswordHash and OpenIDIdentifier is the primary credential.
type Agent struct {
	// ID is the unique identifier for the agent (auto-generated).
	ID int64 `json:"id"`

	// Login is the optional unique login name.
	Login string `json:"login,omitempty"`

	// Email is the optional contact address used for activation and resets.
	Email string `json:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// OpenIDIdentifier is set for agents that signed up through OpenID.
	OpenIDIdentifier string `json:"openid_identifier,omitempty"`

	// State is pending until activation, then active.
	State AgentState `json:"state"`

	// ActivationCode is cleared once consumed.
	ActivationCode *string `json:"-"`

	// ResetPasswordCode is single-use and cleared on a successful reset.
	ResetPasswordCode *string `json:"-"`

	// IsAdmin marks operators allowed to manage other agents.
	IsAdmin bool `json:"is_admin"`

	// ActivatedAt is set when the agent leaves the pending state.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAgent creates an active agent with the given identity fields.
func NewAgent(login, email string) *Agent {
	now := Now()
	return &Agent{
		Login:     login,
		Email:     email,
		State:     AgentActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the agent has completed activation.
func (a *Agent) IsActive() bool {
	return a.State == AgentActive
}

// UsesOpenID reports whether OpenID is the primary credential.
func (a *Agent) UsesOpenID() bool {
	return a.OpenIDIdentifier != ""
}

// DisplayName returns the login, falling back to the email.
func (a *Agent) DisplayName() string {
	if a.Login != "" {
		return a.Login
	}
	return a.Email
}

// Actor is the already-resolved caller of an operation. A nil Agent is anonymous.
type Actor struct {
	Agent *Agent

	// AuthMode records how the agent was authenticated for this request.
	AuthMode AuthMode
}

// Anonymous returns the anonymous actor.
func Anonymous() Actor {
	return Actor{}
}

// ActorFor returns an actor authenticated as agent.
func ActorFor(agent *Agent, mode AuthMode) Actor {
	return Actor{Agent: agent, AuthMode: mode}
}

// IsAuthenticated reports whether an agent is bound to the actor.
func (a Actor) IsAuthenticated() bool {
	return a.Agent != nil
}

// AgentID returns the bound agent's ID or 0 when anonymous.
func (a Actor) AgentID() int64 {
	if a.Agent == nil {
		return 0
	}
	return a.Agent.ID
}

// OwnedBy implements auth.Instance; an agent owns itself.
func (a *Agent) OwnedBy() int64 {
	return a.ID
}

// IsPublic implements auth.Instance. Agent profiles are public.
func (a *Agent) IsPublic() bool {
	return true
}
