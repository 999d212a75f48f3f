package subscriptions

import (
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// DiscussionNotFoundError is returned when materialization targets a
// discussion that does not exist.
type DiscussionNotFoundError struct {
	DiscussionID string
}

func (e *DiscussionNotFoundError) Error() string {
	return fmt.Sprintf("discussion %s not found", e.DiscussionID)
}

func (e *DiscussionNotFoundError) Unwrap() error { return sentinel.ErrNotFound }
