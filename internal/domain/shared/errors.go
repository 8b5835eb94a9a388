// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain error kinds, checked with errors.Is().
var (
	// ErrNotFound is an unknown category, item key or student.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is a missing or invalid configuration value. Callers fall back to defaults.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is a non-numeric, negative or otherwise malformed input.
	ErrValidation = errors.New("validation error")

	// ErrGateDenied is an unmet level or purchase requirement.
	ErrGateDenied = errors.New("gate denied")

	// ErrInsufficientBalance is a purchase attempted without enough spendable points.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotReady is a daily bonus claim inside its cooldown window.
	ErrNotReady = errors.New("not ready")

	// ErrNoBonusConfigured is a daily bonus claim while the equipped avatar grants none.
	ErrNoBonusConfigured = errors.New("no bonus configured")

	// ErrRoleNotPermitted is a caller role outside the allowed set.
	ErrRoleNotPermitted = errors.New("role not permitted")

	// ErrConcurrencyConflict is a write rejected because state changed underneath it.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUnauthorized is a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "cosmetic", "progression", "bonus"
	Op      string // Operation that failed, e.g., "Purchase", "Claim"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message, safe to show to the student
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
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Errorf builds a DomainError with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// Progression domain errors
var (
	ErrInvalidLevelSettings = NewDomainError("progression", "Settings", ErrConfiguration, "invalid level settings, using defaults")
	ErrNegativePoints       = NewDomainError("progression", "Validate", ErrValidation, "points cannot be negative")
)

// Cosmetic domain errors
var (
	ErrUnknownCategory = NewDomainError("cosmetic", "Category", ErrNotFound, "unknown cosmetic category")
	ErrItemNotFound    = NewDomainError("cosmetic", "FindItem", ErrNotFound, "cosmetic item not found")
	ErrItemDisabled    = NewDomainError("cosmetic", "Gate", ErrGateDenied, "item is disabled")
	ErrSelectionStale  = NewDomainError("cosmetic", "UpdateSelection", ErrConcurrencyConflict, "selection was changed by another request")
)

// Student domain errors
var (
	ErrStudentNotFound = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrDuplicateEntry  = NewDomainError("student", "AppendEntry", ErrConcurrencyConflict, "idempotency key was already used")
)

// Bonus domain errors
var (
	ErrClaimInProgress = NewDomainError("bonus", "Claim", ErrConcurrencyConflict, "a daily bonus claim is already in progress")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsGateDenied checks if the error is an unmet gate.
func IsGateDenied(err error) bool {
	return errors.Is(err, ErrGateDenied)
}

// IsConflict checks if the error is a concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsRetryable checks if a read may be retried. Spend operations are never retried,
// so only conflicts from passive reads qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// Message extracts the human-readable message of a DomainError, or err.Error() otherwise.
func Message(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
