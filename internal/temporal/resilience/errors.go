// Package resilience classifies activity and workflow errors, converts
// domain errors to Temporal application errors, and applies per-step
// failure policies inside workflows.
package resilience

import (
	"context"
	"errors"
	"strings"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"

	"github.com/unlock/orchestration-service/internal/domain"
)

// Application error types carried across the activity boundary.
const (
	ErrTypeInvalidInput        = "InvalidInput"
	ErrTypeNotFound            = "NotFound"
	ErrTypeTransient           = "TransientDependencyFailure"
	ErrTypePermanent           = "PermanentDependencyFailure"
	ErrTypeConcurrencyConflict = "ConcurrencyConflict"
	ErrTypeTimeout             = "Timeout"
)

// NonRetryableErrorTypes lists the application error types no retry policy retries.
func NonRetryableErrorTypes() []string {
	return []string{ErrTypeInvalidInput, ErrTypeNotFound, ErrTypePermanent}
}

// ErrorCategory classifies errors into the taxonomy workflows branch on.
type ErrorCategory int

const (
	// Transient errors are temporary failures that should be retried with
	// exponential backoff (e.g. network timeouts, unavailable dependencies).
	Transient ErrorCategory = iota

	// Permanent errors are dependency or business failures no retry can fix.
	Permanent

	// InvalidInput errors mean the caller sent data that can never succeed.
	InvalidInput

	// NotFound errors reference a missing entity, task or run.
	NotFound

	// ConcurrencyConflict errors are optimistic-lock failures on staging.
	ConcurrencyConflict

	// Timeout errors mean an attempt, activity or wait exceeded its bound.
	Timeout

	// RetriesExhausted errors mean an activity failed every attempt its policy allowed.
	RetriesExhausted

	// Cancelled errors come from cooperative cancellation.
	Cancelled
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case ConcurrencyConflict:
		return "concurrency_conflict"
	case Timeout:
		return "timeout"
	case RetriesExhausted:
		return "retries_exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel returns the domain sentinel for the category.
func (c ErrorCategory) Sentinel() error {
	switch c {
	case Transient:
		return domain.ErrTransient
	case Permanent:
		return domain.ErrPermanent
	case InvalidInput:
		return domain.ErrInvalidInput
	case NotFound:
		return domain.ErrNotFound
	case ConcurrencyConflict:
		return domain.ErrConcurrencyConflict
	case Timeout:
		return domain.ErrTimeout
	case RetriesExhausted:
		return domain.ErrRetriesExhausted
	case Cancelled:
		return domain.ErrCancelled
	default:
		return domain.ErrPermanent
	}
}

// transientSubstrings are error message substrings that indicate a transient failure
// when the error is not already classified by a structured error type.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection refused",
	"connection reset",
	"service unavailable",
	"temporary",
	"deadline exceeded",
	"i/o timeout",
}

// permanentSubstrings indicate a permanent failure.
var permanentSubstrings = []string{
	"unauthorized",
	"forbidden",
	"bad request",
	"validation",
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Cancellation
//  2. Activity errors: a workflow only sees one after the retry policy gave
//     up, so a retryable cause means the retries ran out
//  3. Temporal timeouts
//  4. Temporal ApplicationError Type()
//  5. Domain sentinel errors
//  6. Error message substring matching (transient checked first)
//  7. Default: Transient (safer to retry than to fail)
func Classify(err error) ErrorCategory {
	if err == nil {
		return Permanent
	}
	if isCancellation(err) {
		return Cancelled
	}

	var actErr *temporal.ActivityError
	if errors.As(err, &actErr) {
		switch actErr.RetryState() {
		case enumspb.RETRY_STATE_MAXIMUM_ATTEMPTS_REACHED, enumspb.RETRY_STATE_TIMEOUT:
			return RetriesExhausted
		case enumspb.RETRY_STATE_NON_RETRYABLE_FAILURE:
			return classifyCause(actErr.Unwrap())
		}
		c := classifyCause(actErr.Unwrap())
		if c.Retryable() {
			return RetriesExhausted
		}
		return c
	}
	return classifyCause(err)
}

// Retryable reports whether errors of the category are retried by activity policies.
func (c ErrorCategory) Retryable() bool {
	return c == Transient || c == ConcurrencyConflict || c == Timeout
}

func isCancellation(err error) bool {
	return temporal.IsCanceledError(err) || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled)
}

func classifyCause(err error) ErrorCategory {
	if err == nil {
		return Transient
	}
	if isCancellation(err) {
		return Cancelled
	}
	if errors.Is(err, domain.ErrRetriesExhausted) {
		return RetriesExhausted
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return Timeout
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrTypeInvalidInput:
			return InvalidInput
		case ErrTypeNotFound:
			return NotFound
		case ErrTypeConcurrencyConflict:
			return ConcurrencyConflict
		case ErrTypePermanent:
			return Permanent
		case ErrTypeTransient:
			return Transient
		case ErrTypeTimeout:
			return Timeout
		}
		if appErr.NonRetryable() {
			return Permanent
		}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return InvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return NotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return ConcurrencyConflict
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, domain.ErrPermanent), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyExists):
		return Permanent
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrServiceUnavailable):
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return Permanent
		}
	}

	return Transient
}

// ToApplicationError converts an activity's error into the Temporal
// application error its category calls for. Cancellation and errors that
// are already application errors pass through unchanged.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}

	msg := err.Error()
	switch Classify(err) {
	case Cancelled:
		return err
	case InvalidInput:
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeInvalidInput, err)
	case NotFound:
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeNotFound, err)
	case Permanent:
		return temporal.NewNonRetryableApplicationError(msg, ErrTypePermanent, err)
	case ConcurrencyConflict:
		return temporal.NewApplicationErrorWithCause(msg, ErrTypeConcurrencyConflict, err)
	default:
		return temporal.NewApplicationErrorWithCause(msg, ErrTypeTransient, err)
	}
}

// ErrorType returns the application error type a workflow fails with for
// errors of this category.
func (c ErrorCategory) ErrorType() string {
	switch c {
	case InvalidInput:
		return ErrTypeInvalidInput
	case NotFound:
		return ErrTypeNotFound
	case ConcurrencyConflict:
		return ErrTypeConcurrencyConflict
	case Timeout:
		return ErrTypeTimeout
	case Permanent:
		return ErrTypePermanent
	case RetriesExhausted:
		return "RetriesExhausted"
	case Cancelled:
		return "Cancelled"
	default:
		return ErrTypeTransient
	}
}

// ErrorKind returns the category name of err, or "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).String()
}
