package graphsync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for session error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrSessionClosed indicates the session was used after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFeedDisabled indicates an edge feed operation on a session without a feed.
	ErrFeedDisabled = errors.New("edge feed not configured")

	// ErrUnknownContainer indicates no dispatcher serves the requested container kind.
	ErrUnknownContainer = errors.New("no dispatcher for container kind")
)

// Error kinds categorize errors by their type.
const (
	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindNetwork represents errors related to network operations.
	KindNetwork = "network"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindInternal represents internal errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with the
// operation that failed and the category of error.
//
// Error supports unwrapping, making it compatible with errors.Is() and
// errors.As().
//
// Example usage:
//
//	err := &Error{
//		Op:   "NewSession",
//		Kind: KindConfiguration,
//		Err:  ErrInvalidConfig,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "NewSession", "Session.Membership").
	Op string

	// Kind categorizes the error (e.g., KindConfiguration, KindNetwork).
	Kind string

	// Err is the underlying error that caused this error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("graphsync: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("graphsync: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one), then
// delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

func newError(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer graphsync.CloseWithLog(session, logger, "graphsync session")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
