package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// LogNotifier writes notifications to the log. Used in development and
// when no delivery worker is deployed.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Send logs the notification.
func (n *LogNotifier) Send(ctx context.Context, agent *domain.Agent, kind Kind, payload map[string]string) error {
	msg := New(agent, kind, payload)

	event := n.logger.Info().
		Str("notification_id", msg.ID).
		Str("kind", string(kind)).
		Int64("agent_id", msg.AgentID).
		Str("email", msg.Email)
	for k, v := range payload {
		event = event.Str(k, v)
	}
	event.Msg("notification dispatched")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
