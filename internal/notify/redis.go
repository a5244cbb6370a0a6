package notify

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// RedisNotifier pushes notifications as JSON onto a Redis list that a
// delivery worker consumes with BRPOP.
type RedisNotifier struct {
	client goredis.UniversalClient
	queue  string
}

// NewRedisNotifier creates a RedisNotifier writing to queue.
func NewRedisNotifier(client goredis.UniversalClient, queue string) *RedisNotifier {
	return &RedisNotifier{client: client, queue: queue}
}

// Send enqueues the notification.
func (n *RedisNotifier) Send(ctx context.Context, agent *domain.Agent, kind Kind, payload map[string]string) error {
	data, err := json.Marshal(New(agent, kind, payload))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.client.LPush(ctx, n.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

var _ Notifier = (*RedisNotifier)(nil)
