// Package serviceerror carries the coded error type shared by every BookThreads service.
//
// Codes take the form "<operation>.<reason>", for example "votes.cast.insert_failed",
// and the wrapped cause stays reachable through errors.Is / errors.As.
package serviceerror

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationRequired rejects a write attempted without a signed-in user.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrSelfAction rejects actions a user may not direct at themselves (follow, match).
	ErrSelfAction = errors.New("action not allowed on yourself")
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput reports malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden reports an action on an entity the caller does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrMissingDatabase reports a service constructed without a store handle.
	ErrMissingDatabase = errors.New("database handle is required")
)

// ServiceError wraps a failure with a stable machine-readable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" code.
func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError for the operation and reason around cause.
func New(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CodeOf extracts the code from err when it carries a ServiceError.
func CodeOf(err error) (string, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}
