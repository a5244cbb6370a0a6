package auth

import (
	"github.com/prn-tf/alexander-cms/internal/domain"
)

// GateOptions are the agent options that switch rules on or off.
type GateOptions struct {
	// Activation enables the activation endpoint.
	Activation bool

	// AuthModes lists the enabled authentication modes. Password reset
	// needs login_and_password.
	AuthModes []domain.AuthMode
}

type ruleKey struct {
	resource Resource
	action   Action
}

// Gate is the capability predicate. Evaluation is side-effect free and
// total: an unknown (resource, action) pair is denied.
type Gate struct {
	rules    map[ruleKey]Rule
	registry *domain.Registry
}

// NewGate creates a gate with the default rule table. registry resolves
// content type collections to the post rules.
func NewGate(opts GateOptions, registry *domain.Registry) *Gate {
	g := &Gate{
		rules:    make(map[ruleKey]Rule),
		registry: registry,
	}

	passwordReset := modeAllowed(opts.AuthModes, domain.AuthLoginAndPassword) || len(opts.AuthModes) == 0

	// Agents
	g.Set(ResourceAgents, ActionIndex, Rule{Admin: true})
	g.Set(ResourceAgents, ActionShow, Rule{Anonymous: true})
	g.Set(ResourceAgents, ActionCreate, Rule{Anonymous: true})
	g.Set(ResourceAgents, ActionDestroy, Rule{Admin: true})
	g.Set(ResourceAgents, ActionActivate, Rule{Anonymous: true, Disabled: !opts.Activation})
	g.Set(ResourceAgents, ActionForgotPassword, Rule{Anonymous: true, Disabled: !passwordReset})
	g.Set(ResourceAgents, ActionResetPassword, Rule{Anonymous: true, Disabled: !passwordReset})

	// Containers
	g.Set(ResourceContainers, ActionIndex, Rule{Anonymous: true})
	g.Set(ResourceContainers, ActionShow, Rule{PublicRead: true, Owner: true})
	g.Set(ResourceContainers, ActionCreate, Rule{Active: true})
	g.Set(ResourceContainers, ActionUpdate, Rule{Active: true, Owner: true})
	g.Set(ResourceContainers, ActionDestroy, Rule{Active: true, Owner: true})

	// Posts. For index and create the instance is the target container.
	g.Set(ResourcePosts, ActionIndex, Rule{PublicRead: true, Owner: true})
	g.Set(ResourcePosts, ActionShow, Rule{PublicRead: true, Owner: true})
	g.Set(ResourcePosts, ActionCreate, Rule{Active: true, Owner: true})
	g.Set(ResourcePosts, ActionUpdate, Rule{Active: true, Owner: true})
	g.Set(ResourcePosts, ActionDestroy, Rule{Active: true, Owner: true})

	return g
}

// Set replaces the rule for an action on a resource.
func (g *Gate) Set(resource Resource, action Action, rule Rule) {
	g.rules[ruleKey{resource, action}] = rule
}

// Authorize reports whether actor may perform action on resource.
// inst may be nil for class-level actions.
func (g *Gate) Authorize(actor domain.Actor, resource Resource, action Action, inst Instance) bool {
	if rule, ok := g.rules[ruleKey{resource, action}]; ok {
		return rule.allows(actor, inst)
	}

	// Content type collections fall back to the post rules, narrowed by
	// the authentication modes the content type supports.
	if g.registry == nil {
		return false
	}
	ct, ok := g.registry.LookupCollection(string(resource))
	if !ok {
		return false
	}
	rule, ok := g.rules[ruleKey{ResourcePosts, action}]
	if !ok {
		return false
	}
	if action == ActionCreate && len(ct.AuthModes) > 0 {
		rule.Modes = ct.AuthModes
	}
	return rule.allows(actor, inst)
}

// Check is Authorize returning domain.ErrForbidden on denial.
func (g *Gate) Check(actor domain.Actor, resource Resource, action Action, inst Instance) error {
	if !g.Authorize(actor, resource, action, inst) {
		return domain.ErrForbidden
	}
	return nil
}

// Enabled reports whether an action is switched on at all.
func (g *Gate) Enabled(resource Resource, action Action) bool {
	rule, ok := g.rules[ruleKey{resource, action}]
	return ok && !rule.Disabled
}

// CollectionResource returns the gate resource of a content type.
func CollectionResource(ct *domain.ContentType) Resource {
	return Resource(ct.Collection)
}
