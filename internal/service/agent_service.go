package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/notify"
	"github.com/prn-tf/alexander-cms/internal/pkg/crypto"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

const (
	loginMinLength = 3
	loginMaxLength = 40
	emailMinLength = 6
	emailMaxLength = 100

	identityLockTTL = 10 * time.Second
)

var loginFormat = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

// AgentOptions are the per-deployment agent settings.
type AgentOptions struct {
	// Activation makes new agents start pending until they confirm.
	Activation bool

	// AuthModes lists the enabled authentication modes.
	AuthModes []domain.AuthMode

	MinPasswordLength int
	BcryptCost        int

	// ResetRequestLimit caps forgot-password requests per email within
	// ResetRequestWindow. Zero disables the throttle.
	ResetRequestLimit  int
	ResetRequestWindow time.Duration
}

// HasMode reports whether mode is enabled.
func (o AgentOptions) HasMode(mode domain.AuthMode) bool {
	for _, m := range o.AuthModes {
		if m == mode {
			return true
		}
	}
	return false
}

// AgentService implements the agent lifecycle: signup, activation,
// password reset, authentication and operator management.
type AgentService struct {
	agentRepo repository.AgentRepository
	posts     *PostService
	gate      *auth.Gate
	locker    lock.Locker
	cache     repository.Cache
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	opts      AgentOptions
	logger    zerolog.Logger
}

// NewAgentService creates a new AgentService. posts is used to tear down
// an agent's posts on destroy.
func NewAgentService(
	agentRepo repository.AgentRepository,
	posts *PostService,
	gate *auth.Gate,
	locker lock.Locker,
	cache repository.Cache,
	notifier notify.Notifier,
	m *metrics.Metrics,
	opts AgentOptions,
	logger zerolog.Logger,
) *AgentService {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 6
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 10
	}
	return &AgentService{
		agentRepo: agentRepo,
		posts:     posts,
		gate:      gate,
		locker:    locker,
		cache:     cache,
		notifier:  notifier,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("service", "agent").Logger(),
	}
}

func (s *AgentService) check(actor domain.Actor, action auth.Action, inst auth.Instance) error {
	if err := s.gate.Check(actor, auth.ResourceAgents, action, inst); err != nil {
		s.metrics.Denied(string(auth.ResourceAgents), string(action))
		return err
	}
	return nil
}

// =============================================================================
// Signup
// =============================================================================

// SignupInput contains the data needed to create a new agent.
type SignupInput struct {
	Login                string
	Email                string
	Password             string
	PasswordConfirmation string

	// OpenIDIdentifier is taken from a completed OpenID handshake. It is
	// ignored when an operator creates the agent.
	OpenIDIdentifier string

	// IsAdmin is honored only for operators.
	IsAdmin bool
}

// SignupOutput contains the result of a signup.
type SignupOutput struct {
	Agent *domain.Agent

	// Current is the agent the caller should bind to the session, nil
	// when an operator created someone else.
	Current *domain.Agent

	// ActivationRequired is set when the agent starts pending.
	ActivationRequired bool

	// ActivationSent reports whether the activation notice was dispatched.
	ActivationSent bool

	Notices []string
}

// Signup validates and persists a new agent. Validation failures come back
// as a *domain.ValidationError targeting the agent.
func (s *AgentService) Signup(ctx context.Context, actor domain.Actor, input SignupInput) (*SignupOutput, error) {
	if err := s.check(actor, auth.ActionCreate, nil); err != nil {
		return nil, err
	}

	operator := actor.IsAuthenticated()
	input.Login = strings.TrimSpace(input.Login)
	input.Email = strings.TrimSpace(input.Email)
	if operator {
		input.OpenIDIdentifier = ""
	}
	if !operator || !actor.Agent.IsAdmin {
		input.IsAdmin = false
	}

	if err := s.validateSignup(input); err != nil {
		return nil, err
	}

	agent := domain.NewAgent(input.Login, input.Email)
	agent.OpenIDIdentifier = strings.TrimSpace(input.OpenIDIdentifier)
	agent.IsAdmin = input.IsAdmin

	if input.Password != "" {
		hash, err := crypto.HashPassword(input.Password, s.opts.BcryptCost)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to hash password")
			return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
		}
		agent.PasswordHash = hash
	}

	if s.opts.Activation {
		code, err := crypto.GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		agent.State = domain.AgentPending
		agent.ActivationCode = &code
	} else {
		now := agent.CreatedAt
		agent.ActivatedAt = &now
	}

	lockKey := input.Login
	if lockKey == "" {
		lockKey = input.Email
	}
	err := lock.Do(ctx, s.locker, lock.Keys.Signup(lockKey), identityLockTTL, func(ctx context.Context) error {
		verr := domain.NewValidationError(domain.TargetAgent)
		if agent.Login != "" {
			exists, err := s.agentRepo.ExistsByLogin(ctx, agent.Login)
			if err != nil {
				return err
			}
			if exists {
				verr.Add("login", "has already been taken")
			}
		}
		if agent.Email != "" {
			exists, err := s.agentRepo.ExistsByEmail(ctx, agent.Email)
			if err != nil {
				return err
			}
			if exists {
				verr.Add("email", "has already been taken")
			}
		}
		if err := verr.OrNil(); err != nil {
			return err
		}
		return s.agentRepo.Create(ctx, agent)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			return nil, err
		case errors.Is(err, domain.ErrAgentAlreadyExists):
			verr := domain.NewValidationError(domain.TargetAgent)
			verr.Add("base", "login or email has already been taken")
			return nil, verr
		case errors.Is(err, lock.ErrNotAcquired):
			return nil, ErrBusy
		}
		s.logger.Error().Err(err).Str("login", input.Login).Msg("failed to create agent")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.metrics.AgentEvent(metrics.EventSignup)
	s.logger.Info().
		Int64("agent_id", agent.ID).
		Str("login", agent.Login).
		Str("state", string(agent.State)).
		Bool("by_operator", operator).
		Msg("agent created")

	out := &SignupOutput{
		Agent:              agent,
		ActivationRequired: agent.State == domain.AgentPending,
	}
	if operator {
		out.Notices = append(out.Notices, "Agent created")
	} else {
		out.Current = agent
		out.Notices = append(out.Notices, "Thanks for signing up!")
	}

	// Dispatch happens after the agent row is committed.
	if out.ActivationRequired {
		out.ActivationSent = s.send(ctx, agent, notify.KindActivation, map[string]string{
			"activation_code": *agent.ActivationCode,
		})
		if operator {
			out.Notices = append(out.Notices, "Activation email has been sent to "+agent.DisplayName())
		} else {
			out.Notices = append(out.Notices, "You should check your email to activate your account")
		}
	}

	return out, nil
}

func (s *AgentService) validateSignup(input SignupInput) error {
	verr := domain.NewValidationError(domain.TargetAgent)
	openID := strings.TrimSpace(input.OpenIDIdentifier) != ""

	switch l := len(input.Login); {
	case l == 0 && !openID:
		verr.Add("login", "can't be blank")
	case l == 0:
	case l < loginMinLength || l > loginMaxLength:
		verr.Add("login", fmt.Sprintf("is the wrong length (should be %d to %d characters)", loginMinLength, loginMaxLength))
	case !loginFormat.MatchString(input.Login):
		verr.Add("login", "is invalid")
	}

	switch l := len(input.Email); {
	case l == 0 && s.opts.Activation:
		verr.Add("email", "can't be blank")
	case l == 0:
	case l < emailMinLength || l > emailMaxLength:
		verr.Add("email", fmt.Sprintf("is the wrong length (should be %d to %d characters)", emailMinLength, emailMaxLength))
	default:
		if addr, err := mail.ParseAddress(input.Email); err != nil || addr.Address != input.Email {
			verr.Add("email", "is invalid")
		}
	}

	switch {
	case openID && input.Password != "":
		verr.Add("password", "must be blank when signing up with OpenID")
	case openID:
		if !s.opts.HasMode(domain.AuthOpenID) {
			verr.Add("openid_identifier", "is not enabled")
		}
	default:
		if !s.opts.HasMode(domain.AuthLoginAndPassword) {
			verr.Add("password", "authentication is not enabled")
		}
		s.validatePassword(verr, input.Password, input.PasswordConfirmation)
	}

	return verr.OrNil()
}

func (s *AgentService) validatePassword(verr *domain.ValidationError, password, confirmation string) {
	switch {
	case password == "":
		verr.Add("password", "can't be blank")
	case len(password) < s.opts.MinPasswordLength:
		verr.Add("password", fmt.Sprintf("is too short (minimum is %d characters)", s.opts.MinPasswordLength))
	case len(password) > 72:
		verr.Add("password", "is too long (maximum is 72 characters)")
	}
	if confirmation == "" {
		verr.Add("password_confirmation", "can't be blank")
	} else if password != confirmation {
		verr.Add("password", "doesn't match confirmation")
	}
}

// send dispatches a notification. Failures are logged, never returned.
func (s *AgentService) send(ctx context.Context, agent *domain.Agent, kind notify.Kind, payload map[string]string) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), agent, kind, payload); err != nil {
		s.metrics.AgentEvent(metrics.EventNotifyFailed)
		s.logger.Warn().Err(err).
			Int64("agent_id", agent.ID).
			Str("kind", string(kind)).
			Msg("failed to dispatch notification")
		return false
	}
	return true
}

// =============================================================================
// Activation
// =============================================================================

// ActivateOutput contains the result of an activation attempt.
type ActivateOutput struct {
	// Agent is the activated agent, nil when nothing happened.
	Agent *domain.Agent

	// Activated is true only for the call that performed the transition.
	Activated bool

	// Current is the agent to bind to the session.
	Current *domain.Agent

	Notices []string
}

// Activate consumes an activation code. A blank, unknown or already used
// code is a no-op and not an error; the transition and its notification
// happen at most once per code.
func (s *AgentService) Activate(ctx context.Context, actor domain.Actor, code string) (*ActivateOutput, error) {
	if err := s.check(actor, auth.ActionActivate, nil); err != nil {
		return nil, err
	}

	out := &ActivateOutput{}
	code = strings.TrimSpace(code)
	if code == "" {
		return out, nil
	}

	agent, err := s.agentRepo.Activate(ctx, code, domain.Now())
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			s.logger.Debug().Msg("activation code did not match a pending agent")
			return out, nil
		}
		s.logger.Error().Err(err).Msg("failed to activate agent")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.metrics.AgentEvent(metrics.EventActivated)
	s.logger.Info().Int64("agent_id", agent.ID).Str("login", agent.Login).Msg("agent activated")

	out.Agent = agent
	out.Activated = true
	out.Current = agent
	out.Notices = append(out.Notices, "Signup complete!")

	s.send(ctx, agent, notify.KindActivated, nil)
	return out, nil
}

// =============================================================================
// Password reset
// =============================================================================

// ForgotPasswordOutput contains the result of a reset request.
type ForgotPasswordOutput struct {
	Agent   *domain.Agent
	Sent    bool
	Notices []string
}

// ForgotPassword issues a single-use reset code for the agent holding email
// and dispatches it. Returns domain.ErrAgentNotFound for an unknown email.
func (s *AgentService) ForgotPassword(ctx context.Context, actor domain.Actor, email string) (*ForgotPasswordOutput, error) {
	if err := s.check(actor, auth.ActionForgotPassword, nil); err != nil {
		return nil, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		verr := domain.NewValidationError(domain.TargetAgent)
		verr.Add("email", "can't be blank")
		return nil, verr
	}

	if s.opts.ResetRequestLimit > 0 && s.cache != nil {
		n, err := s.cache.Increment(ctx, repository.CacheKeys.ResetRequests(strings.ToLower(email)), 1, s.opts.ResetRequestWindow)
		if err != nil {
			s.logger.Warn().Err(err).Msg("reset throttle unavailable")
		} else if n > int64(s.opts.ResetRequestLimit) {
			return nil, ErrTooManyRequests
		}
	}

	agent, err := s.agentRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, domain.NewDomainError(domain.ErrAgentNotFound, "could not find anybody with that email address", email)
		}
		s.logger.Error().Err(err).Msg("failed to look up agent by email")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if agent.UsesOpenID() && agent.PasswordHash == "" {
		return nil, ErrOpenIDAgent
	}

	code, err := crypto.GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	err = lock.Do(ctx, s.locker, lock.Keys.PasswordReset(agent.ID), identityLockTTL, func(ctx context.Context) error {
		return s.agentRepo.SetResetPasswordCode(ctx, agent.ID, code)
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrBusy
		}
		s.logger.Error().Err(err).Int64("agent_id", agent.ID).Msg("failed to store reset code")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	agent.ResetPasswordCode = &code

	s.metrics.AgentEvent(metrics.EventResetRequested)
	s.logger.Info().Int64("agent_id", agent.ID).Msg("password reset requested")

	sent := s.send(ctx, agent, notify.KindPasswordReset, map[string]string{
		"reset_password_code": code,
	})
	return &ForgotPasswordOutput{
		Agent:   agent,
		Sent:    sent,
		Notices: []string{"A password reset link has been sent to email address"},
	}, nil
}

// ResetPasswordInput contains a reset attempt.
type ResetPasswordInput struct {
	Code                 string
	Password             string
	PasswordConfirmation string
}

// ResetPasswordOutput contains the result of a reset attempt.
type ResetPasswordOutput struct {
	Agent *domain.Agent

	// Reset is false when both password fields were empty: the caller
	// should show the reset form.
	Reset bool

	// Current is the agent to bind to the session after a reset.
	Current *domain.Agent

	Notices []string
}

// ResetPassword replaces the password of the agent holding code. An unknown
// code is domain.ErrAgentNotFound. A failed validation leaves the agent and
// its code untouched so the caller can retry.
func (s *AgentService) ResetPassword(ctx context.Context, actor domain.Actor, input ResetPasswordInput) (*ResetPasswordOutput, error) {
	if err := s.check(actor, auth.ActionResetPassword, nil); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, domain.NewDomainError(domain.ErrAgentNotFound, "invalid reset code", "")
	}

	agent, err := s.agentRepo.GetByResetPasswordCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, domain.NewDomainError(domain.ErrAgentNotFound, "invalid reset code", "")
		}
		s.logger.Error().Err(err).Msg("failed to look up reset code")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if input.Password == "" && input.PasswordConfirmation == "" {
		return &ResetPasswordOutput{Agent: agent}, nil
	}

	verr := domain.NewValidationError(domain.TargetAgent)
	s.validatePassword(verr, input.Password, input.PasswordConfirmation)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(input.Password, s.opts.BcryptCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	err = lock.Do(ctx, s.locker, lock.Keys.PasswordReset(agent.ID), identityLockTTL, func(ctx context.Context) error {
		return s.agentRepo.ResetPassword(ctx, agent.ID, code, hash)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAgentNotFound):
			return nil, domain.NewDomainError(domain.ErrAgentNotFound, "invalid reset code", "")
		case errors.Is(err, lock.ErrNotAcquired):
			return nil, ErrBusy
		}
		s.logger.Error().Err(err).Int64("agent_id", agent.ID).Msg("failed to reset password")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	agent.PasswordHash = hash
	agent.ResetPasswordCode = nil

	s.metrics.AgentEvent(metrics.EventPasswordReset)
	s.logger.Info().Int64("agent_id", agent.ID).Msg("password reset")

	return &ResetPasswordOutput{
		Agent:   agent,
		Reset:   true,
		Current: agent,
		Notices: []string{"Password reset"},
	}, nil
}

// =============================================================================
// Authentication and management
// =============================================================================

// Authenticate verifies a login (or email) and password. It implements
// auth.Authenticator.
func (s *AgentService) Authenticate(ctx context.Context, login, password string) (*domain.Agent, error) {
	if !s.opts.HasMode(domain.AuthLoginAndPassword) {
		return nil, domain.ErrInvalidCredentials
	}

	agent, err := s.agentRepo.GetByLogin(ctx, login)
	if errors.Is(err, domain.ErrAgentNotFound) && strings.Contains(login, "@") {
		agent, err = s.agentRepo.GetByEmail(ctx, login)
	}
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			s.logger.Debug().Str("login", login).Msg("agent not found during authentication")
			return nil, domain.ErrInvalidCredentials
		}
		s.logger.Error().Err(err).Msg("failed to look up agent")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if err := crypto.CheckPassword(agent.PasswordHash, password); err != nil {
		s.logger.Debug().Str("login", login).Msg("invalid password during authentication")
		return nil, domain.ErrInvalidCredentials
	}

	if !agent.IsActive() {
		return nil, domain.ErrAgentPending
	}

	return agent, nil
}

// Get returns an agent by numeric id or by login.
func (s *AgentService) Get(ctx context.Context, actor domain.Actor, idOrLogin string) (*domain.Agent, error) {
	agent, err := s.lookup(ctx, idOrLogin)
	if err != nil {
		return nil, err
	}
	if err := s.check(actor, auth.ActionShow, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *AgentService) lookup(ctx context.Context, idOrLogin string) (*domain.Agent, error) {
	var (
		agent *domain.Agent
		err   error
	)
	if id, perr := strconv.ParseInt(idOrLogin, 10, 64); perr == nil {
		agent, err = s.agentRepo.GetByID(ctx, id)
	} else {
		agent, err = s.agentRepo.GetByLogin(ctx, idOrLogin)
	}
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("agent", idOrLogin).Msg("failed to get agent")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return agent, nil
}

// ListAgentsInput contains pagination options for listing agents.
type ListAgentsInput struct {
	Limit  int
	Offset int
}

// ListAgentsOutput contains the result of listing agents.
type ListAgentsOutput struct {
	Agents     []*domain.Agent
	TotalCount int64
}

// List returns agents with pagination. Operators only.
func (s *AgentService) List(ctx context.Context, actor domain.Actor, input ListAgentsInput) (*ListAgentsOutput, error) {
	if err := s.check(actor, auth.ActionIndex, nil); err != nil {
		return nil, err
	}

	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	result, err := s.agentRepo.List(ctx, repository.ListOptions{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list agents")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return &ListAgentsOutput{
		Agents:     result.Items,
		TotalCount: result.Total,
	}, nil
}

// Destroy deletes an agent together with its containers and posts.
// Operators only.
func (s *AgentService) Destroy(ctx context.Context, actor domain.Actor, idOrLogin string) (*domain.Agent, error) {
	agent, err := s.lookup(ctx, idOrLogin)
	if err != nil {
		return nil, err
	}
	if err := s.check(actor, auth.ActionDestroy, agent); err != nil {
		return nil, err
	}

	// Containers and posts go with the agent; their content rows and
	// payload references are released first.
	err = s.posts.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.posts.purgeAgent(ctx, agent.ID); err != nil {
			return err
		}
		return s.agentRepo.Delete(ctx, agent.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Int64("agent_id", agent.ID).Msg("failed to delete agent")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("agent_id", agent.ID).Str("login", agent.Login).Msg("agent deleted")
	return agent, nil
}
