// Package service provides the business logic of Alexander CMS: the agent
// lifecycle, container aggregation of posts, and payload garbage collection.
package service

import "errors"

// Common service errors. Domain lookups and validation failures are
// reported with the domain package errors.
var (
	// ErrTooManyRequests is returned when a throttled action is repeated too often.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrOpenIDAgent is returned for password operations on agents that
	// authenticate with OpenID.
	ErrOpenIDAgent = errors.New("agent authenticates with OpenID")

	// ErrBusy is returned when a serialized operation could not get its lock.
	ErrBusy = errors.New("operation in progress, try again")

	// General errors
	ErrInternalError = errors.New("internal server error")
)
