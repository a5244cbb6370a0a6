// Package auth resolves the acting agent of a request and gates every
// restricted action through a declarative capability rule table.
package auth

import (
	"github.com/prn-tf/alexander-cms/internal/domain"
)

// =============================================================================
// Resources and Actions
// =============================================================================

// Resource names a class of resources the gate has rules for. Registered
// content type collections ("articles", "photos") are resources too and
// inherit the post rules.
type Resource string

const (
	ResourceAgents     Resource = "agents"
	ResourceContainers Resource = "containers"
	ResourcePosts      Resource = "posts"
)

// Action names an operation on a resource.
type Action string

const (
	ActionIndex          Action = "index"
	ActionShow           Action = "show"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDestroy        Action = "destroy"
	ActionActivate       Action = "activate"
	ActionForgotPassword Action = "forgot_password"
	ActionResetPassword  Action = "reset_password"
)

// Instance is a resource instance rules can inspect.
type Instance interface {
	// OwnedBy returns the ID of the owning agent.
	OwnedBy() int64

	// IsPublic reports whether anyone may read the instance.
	IsPublic() bool
}

// =============================================================================
// Rules
// =============================================================================

// Rule declares what an action on a resource requires. The zero Rule
// admits any authenticated agent.
type Rule struct {
	// Disabled turns the action off entirely.
	Disabled bool

	// Anonymous admits callers without an agent.
	Anonymous bool

	// PublicRead admits everyone when the instance is public.
	PublicRead bool

	// Active requires an activated agent.
	Active bool

	// Owner requires the instance to be owned by the agent. Admins pass.
	Owner bool

	// Admin requires an operator.
	Admin bool

	// Modes restricts the authentication modes the agent may have used.
	Modes []domain.AuthMode
}

func (r Rule) allows(actor domain.Actor, inst Instance) bool {
	if r.Disabled {
		return false
	}
	if r.PublicRead && inst != nil && inst.IsPublic() {
		return true
	}

	agent := actor.Agent
	if agent == nil {
		return r.Anonymous
	}

	if r.Admin && !agent.IsAdmin {
		return false
	}
	if r.Active && !agent.IsActive() {
		return false
	}
	if !modeAllowed(r.Modes, actor.AuthMode) {
		return false
	}
	if r.Owner && inst != nil && inst.OwnedBy() != agent.ID && !agent.IsAdmin {
		return false
	}
	return true
}

func modeAllowed(modes []domain.AuthMode, mode domain.AuthMode) bool {
	if len(modes) == 0 {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// =============================================================================
// Request Context
// =============================================================================

// actorContextKey is the context key for the resolved domain.Actor.
type actorContextKey struct{}

// ActorContextKey is the key used to store the actor in a request context.
var ActorContextKey = actorContextKey{}
