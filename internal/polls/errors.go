package polls

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates missing or insufficient required input, such
	// as fewer than two options or a vote submission without options.
	ErrValidation = errors.New("polls: validation failed")
	// ErrNotOwner indicates an update or delete attempted by a non-owner,
	// or against a poll that does not exist.
	ErrNotOwner = errors.New("polls: poll not found or not owned by caller")
	// ErrNotFound indicates the referenced poll, option, or share token
	// does not resolve. For owner-scoped reads it also covers polls owned
	// by someone else, so callers cannot probe for existence.
	ErrNotFound = errors.New("polls: poll not found")
	// ErrDuplicateVote indicates a vote submission violated one of the
	// uniqueness constraints; nothing from the submission was recorded.
	ErrDuplicateVote = errors.New("polls: duplicate vote")
)

// ServiceError carries a dotted operation.reason code alongside the cause.
// The core raises typed errors only; rendering them into user-facing text
// is the boundary layer's job.
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

// Code returns the machine-readable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
