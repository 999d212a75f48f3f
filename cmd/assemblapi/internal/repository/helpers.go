package repository

import (
	"database/sql"
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// checkAffected turns a zero-row UPDATE or DELETE into ErrNotFound.
func checkAffected(result sql.Result, what, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, sentinel.ErrNotFound)
	}
	return nil
}
