package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrNotFound is returned when a record does not exist, including the
	// case of a release with no saved configuration.
	ErrNotFound = errors.New("not found")

	// ErrPrerequisiteMissing is returned when a deploy cannot start because
	// required account-level setup is absent (e.g. no tailscale settings).
	ErrPrerequisiteMissing = errors.New("prerequisite missing")

	// ErrInvalidTransition is returned when a status transition is not
	// permitted by the deployment state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a structurally invalid configuration, such as
// duplicate subdomains across services.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Problems[0])
	}
	return fmt.Sprintf("validation failed: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// NewValidationError creates a ValidationError from one or more problems.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// RenderError reports a fatal rendering failure. An empty render output is
// fatal; an unknown service name is not (it is skipped with a warning).
type RenderError struct {
	Message string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed: %s", e.Message)
}

// UploadError wraps a blob storage write failure with the object key involved.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
