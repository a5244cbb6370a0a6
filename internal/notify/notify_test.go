package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

func TestNew(t *testing.T) {
	agent := &domain.Agent{ID: 7, Login: "quentin", Email: "quentin@example.com"}

	n := New(agent, KindActivation, map[string]string{"code": "abc"})

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, KindActivation, n.Kind)
	assert.Equal(t, int64(7), n.AgentID)
	assert.Equal(t, "quentin@example.com", n.Email)
	assert.Equal(t, "abc", n.Payload["code"])
	assert.False(t, n.CreatedAt.IsZero())
}

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	agent := &domain.Agent{ID: 3, Email: "aaron@example.com"}

	require.NoError(t, n.Send(context.Background(), agent, KindPasswordReset, map[string]string{"code": "xyz"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "password_reset", entry["kind"])
	assert.Equal(t, "xyz", entry["code"])
	assert.Equal(t, float64(3), entry["agent_id"])
	assert.Equal(t, "notification dispatched", entry["message"])
}
