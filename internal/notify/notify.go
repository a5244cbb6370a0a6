// Package notify dispatches agent notifications (activation and password
// reset notices). Delivery itself (email) happens outside this process.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// Kind identifies a notification template.
type Kind string

const (
	// KindActivation carries the activation code of a pending agent.
	KindActivation Kind = "activation"

	// KindActivated confirms a completed activation.
	KindActivated Kind = "activated"

	// KindPasswordReset carries a single-use password reset code.
	KindPasswordReset Kind = "password_reset"
)

// Notification is one dispatched notice.
type Notification struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	AgentID   int64             `json:"agent_id"`
	Login     string            `json:"login,omitempty"`
	Email     string            `json:"email,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// New builds a notification for agent.
func New(agent *domain.Agent, kind Kind, payload map[string]string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		AgentID:   agent.ID,
		Login:     agent.Login,
		Email:     agent.Email,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier sends notifications. Callers treat Send as fire-and-forget:
// a failure is logged and never rolls back the state change that caused it.
type Notifier interface {
	Send(ctx context.Context, agent *domain.Agent, kind Kind, payload map[string]string) error
}
