package bunx

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// TranslateError maps driver errors onto sentinel categories, keeping the
// original error in the chain. what names the operation for the message.
func TranslateError(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	case isDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %w", what, sentinel.ErrConflict, err)
	case isSerializationError(err):
		return fmt.Errorf("%s: %w", what, &sentinel.ConcurrentModificationConflict{Scope: what, Err: err})
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func isDuplicateKeyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "23505")
}

// isSerializationError matches PostgreSQL serialization_failure (40001),
// deadlock_detected (40P01) and SQLite busy/locked errors.
func isSerializationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
