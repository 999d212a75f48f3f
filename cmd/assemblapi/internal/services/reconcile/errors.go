package reconcile

import (
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// IncompatibleMergeError is returned when a merge would fold a user into a
// profile that cannot carry one.
type IncompatibleMergeError struct {
	TargetID string
	SourceID string
	Reason   string
}

func (e *IncompatibleMergeError) Error() string {
	return fmt.Sprintf("cannot merge %s into %s: %s", e.SourceID, e.TargetID, e.Reason)
}

func (e *IncompatibleMergeError) Unwrap() error { return sentinel.ErrInvalidInput }
