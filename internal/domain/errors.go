// Package domain contains the core business entities for Alexander CMS.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ErrNotFound is the root of every lookup miss. Specific not-found
	// errors below wrap it so callers can match either.
	ErrNotFound = errors.New("not found")

	// ===========================================
	// Agent Errors
	// ===========================================

	// ErrAgentNotFound indicates no agent matched the lookup (id, login, email or code).
	ErrAgentNotFound = fmt.Errorf("agent %w", ErrNotFound)

	// ErrAgentAlreadyExists indicates an agent with the same login/email exists.
	ErrAgentAlreadyExists = errors.New("agent already exists")

	// ErrAgentPending indicates the agent has not completed activation.
	ErrAgentPending = errors.New("agent account is pending activation")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ===========================================
	// Container Errors
	// ===========================================

	// ErrContainerNotFound indicates the requested container does not exist.
	ErrContainerNotFound = fmt.Errorf("container %w", ErrNotFound)

	// ErrContainerAlreadyExists indicates a container with the same type and name exists.
	ErrContainerAlreadyExists = errors.New("container already exists")

	// ===========================================
	// Post / Content Errors
	// ===========================================

	// ErrPostNotFound indicates the requested post does not exist.
	ErrPostNotFound = fmt.Errorf("post %w", ErrNotFound)

	// ErrContentNotFound indicates the requested content does not exist.
	ErrContentNotFound = fmt.Errorf("content %w", ErrNotFound)

	// ErrUnsupportedType indicates the content type is not accepted by the target container.
	ErrUnsupportedType = errors.New("content type not supported by container")

	// ErrUnknownContentType indicates the content type was never registered.
	ErrUnknownContentType = errors.New("unknown content type")

	// ===========================================
	// Blob Errors
	// ===========================================

	// ErrBlobNotFound indicates the requested payload blob does not exist.
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)

	// ===========================================
	// Authorization / Negotiation Errors
	// ===========================================

	// ErrForbidden is the uniform capability gate denial.
	ErrForbidden = errors.New("forbidden")

	// ErrNotAcceptable indicates no representation matches the requested format.
	ErrNotAcceptable = errors.New("not acceptable")

	// ErrValidation is matched by every *ValidationError through errors.Is.
	ErrValidation = errors.New("validation failed")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., content type, login).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// ValidationTarget names which record a ValidationError belongs to, so the
// caller can attach the messages to the right form or error document.
type ValidationTarget string

const (
	// TargetAgent marks agent attribute errors.
	TargetAgent ValidationTarget = "agent"

	// TargetContent marks content attribute errors.
	TargetContent ValidationTarget = "content"

	// TargetPost marks post attribute errors.
	TargetPost ValidationTarget = "post"

	// TargetContainer marks container attribute errors.
	TargetContainer ValidationTarget = "container"
)

// ValidationError carries field-level messages for one record.
type ValidationError struct {
	Target ValidationTarget
	Fields map[string][]string
}

// NewValidationError creates an empty ValidationError for target.
func NewValidationError(target ValidationTarget) *ValidationError {
	return &ValidationError{
		Target: target,
		Fields: make(map[string][]string),
	}
}

// Add appends a message for field.
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field has messages.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns e when it has messages and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// FullMessages returns "field message" strings sorted by field.
func (e *ValidationError) FullMessages() []string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var out []string
	for _, f := range fields {
		for _, msg := range e.Fields[f] {
			out = append(out, f+" "+msg)
		}
	}
	return out
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Target, ErrValidation, strings.Join(e.FullMessages(), "; "))
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
