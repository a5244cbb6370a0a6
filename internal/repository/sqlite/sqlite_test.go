package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "cms.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func pendingAgent(login, code string) *domain.Agent {
	agent := domain.NewAgent(login, login+"@example.com")
	agent.State = domain.AgentPending
	agent.ActivationCode = &code
	return agent
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	version, err := db.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.NoError(t, db.Migrate(ctx))
	version, err = db.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestAgentRepository_ActivateConsumesCode(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repositories().Agent

	agent := pendingAgent("aaron", "code-1")
	require.NoError(t, repo.Create(ctx, agent))

	activated, err := repo.Activate(ctx, "code-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, agent.ID, activated.ID)
	assert.True(t, activated.IsActive())
	assert.Nil(t, activated.ActivationCode)
	assert.NotNil(t, activated.ActivatedAt)

	_, err = repo.Activate(ctx, "code-1", time.Now())
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	_, err = repo.GetByActivationCode(ctx, "code-1")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestAgentRepository_ResetPasswordRequiresCurrentCode(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repositories().Agent

	agent := domain.NewAgent("quentin", "quentin@example.com")
	agent.PasswordHash = "old"
	require.NoError(t, repo.Create(ctx, agent))
	require.NoError(t, repo.SetResetPasswordCode(ctx, agent.ID, "first"))
	require.NoError(t, repo.SetResetPasswordCode(ctx, agent.ID, "second"))

	err := repo.ResetPassword(ctx, agent.ID, "first", "new")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	require.NoError(t, repo.ResetPassword(ctx, agent.ID, "second", "new"))
	err = repo.ResetPassword(ctx, agent.ID, "second", "newer")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	got, err := repo.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
	assert.Nil(t, got.ResetPasswordCode)
}

func TestAgentRepository_UniqueLogin(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repositories().Agent

	require.NoError(t, repo.Create(ctx, domain.NewAgent("aaron", "a@example.com")))
	err := repo.Create(ctx, domain.NewAgent("aaron", "b@example.com"))
	assert.ErrorIs(t, err, domain.ErrAgentAlreadyExists)

	exists, err := repo.ExistsByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBlobRepository_RefCounting(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repositories().Blob
	hash := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	require.NoError(t, repo.Register(ctx, hash, 4))
	require.NoError(t, repo.IncrementRef(ctx, hash))
	require.NoError(t, repo.IncrementRef(ctx, hash))

	orphans, err := repo.ListOrphans(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	n, err := repo.DecrementRef(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	assert.ErrorIs(t, repo.Delete(ctx, hash), domain.ErrBlobNotFound)

	n, err = repo.DecrementRef(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int32(0), n)

	orphans, err = repo.ListOrphans(ctx, -time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, hash, orphans[0].ContentHash)

	orphans, err = repo.ListOrphans(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	require.NoError(t, repo.Delete(ctx, hash))
	_, err = repo.GetByHash(ctx, hash)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
	assert.ErrorIs(t, repo.IncrementRef(ctx, hash), domain.ErrBlobNotFound)
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repos := db.Repositories()
	boom := errors.New("boom")

	err := repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := repos.Agent.Create(ctx, domain.NewAgent("ghost", "ghost@example.com")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := repos.Agent.ExistsByLogin(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)

	result, err := repos.Agent.List(ctx, repository.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Total)
}
