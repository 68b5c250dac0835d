// Package nutrition holds the records shared by the ledger, the gamification
// engine and the authority client, plus the error taxonomy every I/O-touching
// operation reports through. Callers should match errors with errors.Is.
package nutrition

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation rejected")

	// ErrTransport covers network failures, timeouts and server-side faults.
	// Retrying is the caller's decision.
	ErrTransport = errors.New("transport failure")

	// ErrUnauthenticated means the credential was rejected and has been cleared.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStaleResponse marks a response superseded by a newer request. It is
	// never returned to callers; components drop the response and log it.
	ErrStaleResponse = errors.New("stale response")
)

// ValidationError carries the reason the authority (or a local precondition)
// refused a write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Rejected builds a ValidationError.
func Rejected(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
