package sentinel

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage and domain facts. Repositories return these
// (wrapped) so services and transports can branch with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")

	// ErrConcurrentModification means the store detected a lost update or a
	// serialization failure. Callers retry the whole read-then-write sequence.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvariant marks a broken data invariant. Never retried.
	ErrInvariant = errors.New("invariant violation")
)

// ConcurrentModificationConflict is raised when a locked write phase loses a
// race it could not observe under its own lock.
type ConcurrentModificationConflict struct {
	Scope string
	Err   error
}

func (e *ConcurrentModificationConflict) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("concurrent modification of %s: %v", e.Scope, e.Err)
	}
	return fmt.Sprintf("concurrent modification of %s", e.Scope)
}

func (e *ConcurrentModificationConflict) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConcurrentModification, e.Err}
	}
	return []error{ErrConcurrentModification}
}

// InvariantViolation reports data that breaks an invariant the code relies on.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return ErrInvariant }

// IsRetryable reports whether err should restart an optimistic sequence.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrConflict)
}
