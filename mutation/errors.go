package mutation

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by MutationError.
var (
	// ErrOperationMismatch means the operation name does not match the variables type.
	ErrOperationMismatch = errors.New("operation does not match variables")

	// ErrNoData means the backend answered without errors and without data.
	ErrNoData = errors.New("response carried no data")

	// ErrBreakerOpen means the transport refused the request because the
	// backend has been failing.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// Reason classifies a failed commit.
type Reason string

const (
	// ReasonNetwork is a transport failure. Retryable.
	ReasonNetwork Reason = "network"

	// ReasonValidation means the input shape or values were rejected.
	// Not retryable without correcting the input.
	ReasonValidation Reason = "validation"

	// ReasonConflict means the edge already exists or is already absent.
	// Benign: the cache should be reconciled to the attempted end state.
	ReasonConflict Reason = "conflict"

	// ReasonUnknown is the catch-all, surfaced to the user.
	ReasonUnknown Reason = "unknown"
)

// MutationError is returned by every failed Commit. It carries the original
// variables so the caller can retry or report.
type MutationError struct {
	// Reason classifies the failure.
	Reason Reason

	// Op is the operation that failed.
	Op Operation

	// Variables are the variables of the failed commit.
	Variables Variables

	// Code is the backend error code, when the backend supplied one.
	Code string

	// Err is the underlying error.
	Err error
}

// NewError creates a MutationError.
func NewError(reason Reason, op Operation, vars Variables, err error) *MutationError {
	return &MutationError{Reason: reason, Op: op, Variables: vars, Err: err}
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	msg := fmt.Sprintf("mutation %s (%s)", e.Op, e.Reason)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// Is matches another *MutationError by Reason (and Op when the target sets
// one), then falls back to the wrapped error.
func (e *MutationError) Is(target error) bool {
	if t, ok := target.(*MutationError); ok && t.Reason != "" && t.Reason == e.Reason {
		if t.Op == "" || t.Op == e.Op {
			return true
		}
	}
	return errors.Is(e.Err, target)
}

// Retryable reports whether repeating the same commit may succeed.
func (e *MutationError) Retryable() bool {
	return e.Reason == ReasonNetwork
}

// Message returns a short user-facing message for the failure.
func (e *MutationError) Message() string {
	switch e.Reason {
	case ReasonNetwork:
		return "The server could not be reached. Check your connection and try again."
	case ReasonValidation:
		return "The change was rejected by the server. Review the selection and try again."
	case ReasonConflict:
		return "The relationship was already in the requested state."
	default:
		return "The change could not be saved. An unexpected error occurred."
	}
}

// ReasonOf extracts the Reason of a commit error. It returns "" for nil and
// ReasonUnknown for errors that are not MutationErrors.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var me *MutationError
	if errors.As(err, &me) {
		return me.Reason
	}
	return ReasonUnknown
}

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool {
	return ReasonOf(err) == ReasonConflict
}
