// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Remote store failure taxonomy. The sync manager classifies every
	// remote failure into exactly one of these kinds.
	ErrNetwork       = errors.New("network error")
	ErrPermission    = errors.New("permission denied")
	ErrNotConfigured = errors.New("remote store not configured")

	// Content generation failures.
	ErrGeneration = errors.New("content generation failed")

	// Merge conflicts. Raised as a warning event, never fatal.
	ErrConflict = errors.New("conflicting concurrent edits")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "review", "path", "group", "sync"
	Op      string // Operation that failed, e.g., "SubmitReview"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Lookup and merge errors raised by the store service. The entity
// packages keep their own fine-grained sentinels; these carry the domain
// and operation context outward while still matching the base kinds with
// errors.Is.
var (
	ErrSessionNotFound    = NewDomainError("session", "Find", ErrNotFound, "chat session not found")
	ErrReviewItemNotFound = NewDomainError("review", "Find", ErrNotFound, "review item not found")
	ErrPathNotFound       = NewDomainError("path", "Find", ErrNotFound, "learning path not found")
	ErrGroupNotFound      = NewDomainError("group", "Find", ErrNotFound, "study group not found")
	ErrRemoteDocInvalid   = NewDomainError("sync", "ApplyRemote", ErrValidation, "remote document failed validation")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsTransient reports whether a remote failure should re-enable itself on the
// next manual retry (network class) as opposed to latching degraded mode.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsPermanentRemote reports whether a remote failure is a misconfiguration
// that must latch degraded local-only mode until an explicit retry.
func IsPermanentRemote(err error) bool {
	return errors.Is(err, ErrPermission) || errors.Is(err, ErrNotConfigured)
}
