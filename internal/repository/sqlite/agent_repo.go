package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// agentRepository implements repository.AgentRepository for SQLite.
type agentRepository struct {
	db *DB
}

// NewAgentRepository creates a new SQLite agent repository.
func NewAgentRepository(db *DB) repository.AgentRepository {
	return &agentRepository{db: db}
}

const agentColumns = `id, login, email, password_hash, openid_identifier, state,
	activation_code, reset_password_code, is_admin, activated_at, created_at, updated_at`

func scanAgent(row rowScanner) (*domain.Agent, error) {
	agent := &domain.Agent{}
	var login, email, openID, activationCode, resetCode, activatedAt sql.NullString
	var state string
	var isAdmin int
	var createdAt, updatedAt string

	err := row.Scan(
		&agent.ID,
		&login,
		&email,
		&agent.PasswordHash,
		&openID,
		&state,
		&activationCode,
		&resetCode,
		&isAdmin,
		&activatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	agent.Login = login.String
	agent.Email = email.String
	agent.OpenIDIdentifier = openID.String
	agent.State = domain.AgentState(state)
	agent.ActivationCode = scanNullString(activationCode)
	agent.ResetPasswordCode = scanNullString(resetCode)
	agent.IsAdmin = isAdmin != 0
	agent.ActivatedAt = parseNullTime(activatedAt)
	agent.CreatedAt = parseTime(createdAt)
	agent.UpdatedAt = parseTime(updatedAt)

	return agent, nil
}

// Create creates a new agent.
func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	query := `
		INSERT INTO agents (login, email, password_hash, openid_identifier, state,
			activation_code, reset_password_code, is_admin, activated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		emptyToNull(agent.Login),
		emptyToNull(agent.Email),
		agent.PasswordHash,
		emptyToNull(agent.OpenIDIdentifier),
		string(agent.State),
		nullString(agent.ActivationCode),
		nullString(agent.ResetPasswordCode),
		boolToInt(agent.IsAdmin),
		formatNullTime(agent.ActivatedAt),
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: login or email already exists", domain.ErrAgentAlreadyExists)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	agent.ID = id

	return nil
}

func (r *agentRepository) getOne(ctx context.Context, where string, arg any) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE ` + where

	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, arg))
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
	return r.getOne(ctx, `id = ?`, id)
}

// GetByLogin retrieves an agent by login.
func (r *agentRepository) GetByLogin(ctx context.Context, login string) (*domain.Agent, error) {
	if login == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `login = ?`, login)
}

// GetByEmail retrieves an agent by email.
func (r *agentRepository) GetByEmail(ctx context.Context, email string) (*domain.Agent, error) {
	if email == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `email = ?`, email)
}

// GetByActivationCode retrieves the agent holding an activation code.
func (r *agentRepository) GetByActivationCode(ctx context.Context, code string) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `activation_code = ?`, code)
}

// GetByResetPasswordCode retrieves the agent holding a reset code.
func (r *agentRepository) GetByResetPasswordCode(ctx context.Context, code string) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}
	return r.getOne(ctx, `reset_password_code = ?`, code)
}

// Activate atomically consumes an activation code.
func (r *agentRepository) Activate(ctx context.Context, code string, at time.Time) (*domain.Agent, error) {
	if code == "" {
		return nil, domain.ErrAgentNotFound
	}

	var agent *domain.Agent
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		found, err := r.GetByActivationCode(ctx, code)
		if err != nil {
			return err
		}

		result, err := r.db.ExecContext(ctx, `
			UPDATE agents
			SET state = ?, activation_code = NULL, activated_at = ?, updated_at = ?
			WHERE id = ? AND activation_code = ? AND state = ?
		`,
			string(domain.AgentActive),
			formatTime(at),
			formatTime(at),
			found.ID,
			code,
			string(domain.AgentPending),
		)
		if err != nil {
			return fmt.Errorf("failed to activate agent: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return domain.ErrAgentNotFound
		}

		agent, err = r.GetByID(ctx, found.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// SetResetPasswordCode stores a fresh reset code for the agent.
func (r *agentRepository) SetResetPasswordCode(ctx context.Context, id int64, code string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET reset_password_code = ?, updated_at = ? WHERE id = ?`,
		code, formatTime(domain.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset code: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// ResetPassword atomically replaces the password and consumes the code.
func (r *agentRepository) ResetPassword(ctx context.Context, id int64, code, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE agents
		SET password_hash = ?, reset_password_code = NULL, updated_at = ?
		WHERE id = ? AND reset_password_code = ?
	`, passwordHash, formatTime(domain.Now()), id, code)
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// Update updates an existing agent.
func (r *agentRepository) Update(ctx context.Context, agent *domain.Agent) error {
	agent.UpdatedAt = domain.Now()

	query := `
		UPDATE agents
		SET login = ?, email = ?, password_hash = ?, openid_identifier = ?, state = ?,
			activation_code = ?, reset_password_code = ?, is_admin = ?, activated_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		emptyToNull(agent.Login),
		emptyToNull(agent.Email),
		agent.PasswordHash,
		emptyToNull(agent.OpenIDIdentifier),
		string(agent.State),
		nullString(agent.ActivationCode),
		nullString(agent.ResetPasswordCode),
		boolToInt(agent.IsAdmin),
		formatNullTime(agent.ActivatedAt),
		formatTime(agent.UpdatedAt),
		agent.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: login or email already exists", domain.ErrAgentAlreadyExists)
		}
		return fmt.Errorf("failed to update agent: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrAgentNotFound
	}

	return nil
}

// Delete deletes an agent by ID.
func (r *agentRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrAgentNotFound
	}

	return nil
}

// List returns all agents with pagination.
func (r *agentRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Agent], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}

	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
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
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE login = ?`, login).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check login existence: %w", err)
	}
	return count > 0, nil
}

// ExistsByEmail checks if an agent with the given email exists.
func (r *agentRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE email = ?`, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

// Ensure agentRepository implements repository.AgentRepository.
var _ repository.AgentRepository = (*agentRepository)(nil)
