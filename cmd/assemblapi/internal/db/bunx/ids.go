package bunx

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string for primary keys. Generated in
// Go so SQLite and PostgreSQL share one code path.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
