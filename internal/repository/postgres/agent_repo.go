package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// agentRepository implements repository.AgentRepository.
type agentRepository struct {
	db *DB
}

// NewAgentRepository creates a new PostgreSQL agent repository.
func NewAgentRepository(db *DB) repository.AgentRepository {
	return &agentRepository{db: db}
}

const agentColumns = `id, login, email, password_hash, openid_identifier, state,
	activation_code, reset_password_code, is_admin, activated_at, created_at, updated_at`

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	agent := &domain.Agent{}
	var login, email, openID *string
	var state string

	err := row.Scan(
		&agent.ID,
		&login,
		&email,
		&agent.PasswordHash,
		&openID,
		&state,
		&agent.ActivationCode,
		&agent.ResetPasswordCode,
		&agent.IsAdmin,
		&agent.ActivatedAt,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	agent.Login = deref(login)
	agent.Email = deref(email)
	agent.OpenIDIdentifier = deref(openID)
	agent.State = domain.AgentState(state)
	return agent, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullable maps "" to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableCode(s *string) *string {
	if s == nil {
		return nil
	}
	return nullable(*s)
}

// Create creates a new agent.
func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO agents (login, email, password_hash, openid_identifier, state,
			activation_code, reset_password_code, is_admin, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		nullable(agent.Login),
		nullable(agent.Email),
		agent.PasswordHash,
		nullable(agent.OpenIDIdentifier),
		string(agent.State),
		nullableCode(agent.ActivationCode),
		nullableCode(agent.ResetPasswordCode),
		agent.IsAdmin,
		agent.ActivatedAt,
		agent.CreatedAt,
		agent.UpdatedAt,
	).Scan(&agent.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: login or email already exists", domain.ErrAgentAlreadyExists)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (r *agentRepository) getOne(ctx context.Context, where string, arg any) (*domain.Agent, error) {
	agent, err := scanAgent(r.db.q(ctx).QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+where, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// GetByID retrieves an agent by ID.
func (r *agentRepository) GetByID(ctx context.Context, id int64) (*domain.Agent, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByLogin retrieves an agent by login (case-insensitive).
func (r *agentRepository) GetByLogin(ctx context.Context, login string) (*domain.Agent, error) {
	if login == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `LOWER(login) = LOWER($1)`, login)
}

// GetByEmail retrieves an agent by email (case-insensitive).
func (r *agentRepository) GetByEmail(ctx context.Context, email string) (*domain.Agent, error) {
	if email == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `LOWER(email) = LOWER($1)`, email)
}

// GetByActivationCode retrieves the agent holding an activation code.
func (r *agentRepository) GetByActivationCode(ctx context.Context, code string) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `activation_code = $1`, code)
}

// GetByResetPasswordCode retrieves the agent holding a reset code.
func (r *agentRepository) GetByResetPasswordCode(ctx context.Context, code string) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `reset_password_code = $1`, code)
}

// Activate atomically consumes an activation code.
func (r *agentRepository) Activate(ctx context.Context, code string, at time.Time) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}

	agent, err := scanAgent(r.db.q(ctx).QueryRow(ctx, `
		UPDATE agents
		SET state = $1, activation_code = NULL, activated_at = $2, updated_at = $2
		WHERE activation_code = $3 AND state = $4
		RETURNING `+agentColumns,
		string(domain.AgentActive), at.UTC(), code, string(domain.AgentPending),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to activate agent: %w", err)
	}
	return agent, nil
}

// SetResetPasswordCode stores a fresh reset code for the agent.
func (r *agentRepository) SetResetPasswordCode(ctx context.Context, id int64, code string) error {
	result, err := r.db.q(ctx).Exec(ctx,
		`UPDATE agents SET reset_password_code = $1, updated_at = $2 WHERE id = $3`,
		code, domain.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// ResetPassword atomically replaces the password and consumes the code.
func (r *agentRepository) ResetPassword(ctx context.Context, id int64, code, passwordHash string) error {
	result, err := r.db.q(ctx).Exec(ctx, `
		UPDATE agents
		SET password_hash = $1, reset_password_code = NULL, updated_at = $2
		WHERE id = $3 AND reset_password_code = $4
	`, passwordHash, domain.Now(), id, code)
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// Update updates an existing agent.
func (r *agentRepository) Update(ctx context.Context, agent *domain.Agent) error {
	agent.UpdatedAt = domain.Now()

	result, err := r.db.q(ctx).Exec(ctx, `
		UPDATE agents
		SET login = $1, email = $2, password_hash = $3, openid_identifier = $4, state = $5,
			activation_code = $6, reset_password_code = $7, is_admin = $8, activated_at = $9, updated_at = $10
		WHERE id = $11
	`,
		nullable(agent.Login),
		nullable(agent.Email),
		agent.PasswordHash,
		nullable(agent.OpenIDIdentifier),
		string(agent.State),
		nullableCode(agent.ActivationCode),
		nullableCode(agent.ResetPasswordCode),
		agent.IsAdmin,
		agent.ActivatedAt,
		agent.UpdatedAt,
		agent.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: login or email already exists", domain.ErrAgentAlreadyExists)
		}
		return fmt.Errorf("failed to update agent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// Delete deletes an agent by ID.
func (r *agentRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// List returns all agents with pagination.
func (r *agentRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Agent], error) {
	var total int64
	if err := r.db.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}

	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return &repository.ListResult[domain.Agent]{
		Items:  agents,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ExistsByLogin checks if an agent with the given login exists.
func (r *agentRepository) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agents WHERE LOWER(login) = LOWER($1))`, login,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check login existence: %w", err)
	}
	return exists, nil
}

// ExistsByEmail checks if an agent with the given email exists.
func (r *agentRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agents WHERE LOWER(email) = LOWER($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// Ensure agentRepository implements repository.AgentRepository.
var _ repository.AgentRepository = (*agentRepository)(nil)
