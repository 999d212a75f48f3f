package bunx

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// LockScope takes an exclusive, transaction-scoped lock on key. On
// PostgreSQL this is pg_advisory_xact_lock, released by commit or rollback.
// SQLite runs on one connection, so an open transaction already excludes
// every other writer and LockScope is a no-op there.
//
// tx must be a transaction; a plain *bun.DB would release the lock
// immediately on PostgreSQL.
func LockScope(ctx context.Context, tx bun.IDB, key string) error {
	if !IsPostgreSQL(tx) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", key); err != nil {
		return TranslateError(fmt.Sprintf("lock scope %s", key), err)
	}
	return nil
}

// ForUpdate adds FOR UPDATE to q on dialects that support row locks.
func ForUpdate(q *bun.SelectQuery, db bun.IDB) *bun.SelectQuery {
	if IsPostgreSQL(db) {
		return q.For("UPDATE")
	}
	return q
}
