// ABOUTME: Error kinds shared by every coordination component
// ABOUTME: Component sentinels wrap these so callers can classify with errors.Is

package fault

import (
	"errors"
	"fmt"
)

// Error kinds. Component-level sentinels wrap one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrPersistence        = errors.New("persistence failure")
	ErrValidation         = errors.New("validation failure")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrRateLimited        = errors.New("rate limited")
	ErrClosed             = errors.New("component closed")
)

// persistenceError carries the failing store operation and the cause.
// It matches both ErrPersistence and the wrapped cause.
type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.op, e.err)
}

func (e *persistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.err}
}

// Persistence wraps a store error. Returns nil when err is nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}

// Validation returns an ErrValidation with a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transition returns an ErrInvalidTransition describing from and to.
func Transition(entity string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, entity, from, to)
}
