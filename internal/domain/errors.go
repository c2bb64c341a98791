package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions. Typed errors below unwrap to one
// of these so callers can branch with errors.Is.
var (
	// ErrInvalidInput indicates the caller supplied invalid data. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested entity, run or task was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyRunning indicates a workflow start for an id whose run is still open.
	ErrAlreadyRunning = errors.New("workflow already running")

	// ErrTransient indicates an infrastructure or network failure that may succeed on retry.
	ErrTransient = errors.New("transient dependency failure")

	// ErrPermanent indicates a business-rule or dependency failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent dependency failure")

	// ErrConcurrencyConflict indicates an optimistic-lock failure on entity versioning.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTimeout indicates an attempt, activity or run exceeded its time bound.
	ErrTimeout = errors.New("timeout")

	// ErrRetriesExhausted indicates an activity failed every attempt its policy allowed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrInvalidTransition indicates a status change the lifecycle does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that a backing service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns ErrNotFound for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns ErrAlreadyExists for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// ConcurrencyConflictError reports a stage attempt whose expected version did
// not match the current version of the entity group.
type ConcurrencyConflictError struct {
	EntityGroupID string
	Expected      int
	Actual        int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on entity group %s: expected version %d, current %d",
		e.EntityGroupID, e.Expected, e.Actual)
}

// Unwrap returns ErrConcurrencyConflict for use with errors.Is.
func (e *ConcurrencyConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// DependencyError wraps a failure of an engine or backing service, classified
// as transient or permanent.
type DependencyError struct {
	Dependency string
	Retryable  bool
	Cause      error
}

func (e *DependencyError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s failure in %s", kind, e.Dependency)
	}
	return fmt.Sprintf("%s failure in %s: %v", kind, e.Dependency, e.Cause)
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *DependencyError) Unwrap() []error {
	sentinel := ErrPermanent
	if e.Retryable {
		sentinel = ErrTransient
	}
	if e.Cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Cause}
}

// InvalidTransitionError reports a rejected lifecycle change.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for use with errors.Is.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{Entity: entity, ID: id}
}

// NewConcurrencyConflictError creates a new ConcurrencyConflictError.
func NewConcurrencyConflictError(entityGroupID string, expected, actual int) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{EntityGroupID: entityGroupID, Expected: expected, Actual: actual}
}

// NewTransientError wraps cause as a retryable dependency failure.
func NewTransientError(dependency string, cause error) *DependencyError {
	return &DependencyError{Dependency: dependency, Retryable: true, Cause: cause}
}

// NewPermanentError wraps cause as a non-retryable dependency failure.
func NewPermanentError(dependency string, cause error) *DependencyError {
	return &DependencyError{Dependency: dependency, Retryable: false, Cause: cause}
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(entity, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}
