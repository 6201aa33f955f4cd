package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used for classification with errors.Is.
var (
	// ErrNotFound indicates that no stored record has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a second record for an existing pmcid.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates a rejected request body or parameter.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstream indicates that PubMed or a model provider failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrParse indicates that an upstream payload could not be decoded.
	ErrParse = errors.New("parse failure")
)

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError reports a uniqueness conflict on a record id.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{Entity: entity, ID: id}
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns ErrAlreadyExists.
func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// ExternalAPIError describes a failed call to PubMed or a model provider.
// StatusCode is zero for transport failures. errors.Is(err, ErrUpstream)
// holds for every ExternalAPIError while Unwrap exposes the cause.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s API error: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

func (e *ExternalAPIError) Unwrap() error { return e.Cause }

func (e *ExternalAPIError) Is(target error) bool { return target == ErrUpstream }

// ParseError reports an upstream payload that could not be decoded.
// Callers never substitute defaults for it.
type ParseError struct {
	Source  string
	Message string
	Cause   error
}

// NewParseError creates a new ParseError.
func NewParseError(source, message string, cause error) *ParseError {
	return &ParseError{Source: source, Message: message, Cause: cause}
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s parse error: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s: %v", e.Source, e.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
