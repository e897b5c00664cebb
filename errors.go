package smarterid

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Codec and layout errors
	ErrInvalidFormat      = errors.New("invalid UUID format")
	ErrUnsupportedVersion = errors.New("unsupported UUID version")
	ErrNonConformant      = errors.New("UUID does not conform to RFC 4122")

	// Capability errors
	ErrClockUnavailable   = errors.New("clock source unavailable")
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
	ErrNodeUnavailable    = errors.New("node identifier unavailable")

	// State storage errors
	ErrNotFound           = errors.New("object not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConflict           = errors.New("concurrent modification detected")
	ErrStateCorrupted     = errors.New("generator state corrupted")

	// Lock errors
	ErrLockHeld    = errors.New("lock already held by another process")
	ErrLockTimeout = errors.New("failed to acquire lock within timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// capabilityError wraps a collaborator failure under one of the capability sentinels
// while keeping the underlying cause reachable through errors.Is/As.
type capabilityError struct {
	kind  error
	cause error
}

func (e *capabilityError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *capabilityError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func unavailable(kind, cause error) error {
	return &capabilityError{kind: kind, cause: cause}
}

// IsFormatError checks if an error came from parsing malformed text
func IsFormatError(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable checks if an error is safe to retry. Nothing in this package
// retries on its own; callers decide.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrClockUnavailable) ||
		errors.Is(err, ErrEntropyUnavailable) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrLockTimeout)
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrStateCorrupted) ||
		errors.Is(err, ErrInvalidConfig)
}
