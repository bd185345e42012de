package marketplace

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrEmptyInput is returned when the fragment is empty or whitespace.
	ErrEmptyInput = errors.New("compose fragment is empty")

	// ErrNoServices is returned when the fragment defines no services.
	ErrNoServices = errors.New("compose fragment has no services")

	// ErrInvalidYAML is returned when the fragment is not valid YAML or not
	// a valid compose document.
	ErrInvalidYAML = errors.New("invalid compose YAML")

	// ErrServiceNoImage is returned when a service has no image reference.
	// Build contexts are not supported; marketplace services are pulled.
	ErrServiceNoImage = errors.New("service has no image")

	// ErrUnsupportedFeature is returned for compose features that have no
	// quadlet equivalent in this pipeline.
	ErrUnsupportedFeature = errors.New("unsupported compose feature")
)

// ParseError wraps a sentinel with the compose field it occurred at.
type ParseError struct {
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse compose: %s", e.Message)
	}
	return fmt.Sprintf("parse compose: %s: %s", e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a ParseError for the given field and sentinel.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{Field: field, Message: message, Err: err}
}
