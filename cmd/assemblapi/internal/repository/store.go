package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// Store bundles every repository over one connection or transaction.
// Services take a *Store and open transactions through RunInTx so that all
// repositories inside fn share the same transaction.
type Store struct {
	root *bun.DB
	tx   *bun.Tx

	Profiles      ProfileRepository
	Users         UserRepository
	Accounts      AccountRepository
	Providers     IdentityProviderRepository
	Roles         RoleRepository
	Discussions   DiscussionRepository
	Subscriptions SubscriptionRepository
	Templates     TemplateRepository
	Content       ContentRepository
	RevokedTokens RevokedTokenRepository
}

// NewStore wires all Bun repositories over db.
func NewStore(db *bun.DB) *Store {
	s := &Store{root: db}
	s.bind(db)
	return s
}

func (s *Store) bind(db bun.IDB) {
	s.Profiles = NewBunProfileRepository(db)
	s.Users = NewBunUserRepository(db)
	s.Accounts = NewBunAccountRepository(db)
	s.Providers = NewBunIdentityProviderRepository(db)
	s.Roles = NewBunRoleRepository(db)
	s.Discussions = NewBunDiscussionRepository(db)
	s.Subscriptions = NewBunSubscriptionRepository(db)
	s.Templates = NewBunTemplateRepository(db)
	s.Content = NewBunContentRepository(db)
	s.RevokedTokens = NewBunRevokedTokenRepository(db)
}

// DB returns the connection the repositories run on.
func (s *Store) DB() bun.IDB {
	if s.tx != nil {
		return *s.tx
	}
	return s.root
}

// InTx reports whether the store is bound to a transaction.
func (s *Store) InTx() bool {
	return s.tx != nil
}

// RunInTx runs fn inside a transaction, committing when fn returns nil.
// Calling it on a store already bound to a transaction reuses that
// transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	err := s.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		txStore := &Store{root: s.root, tx: &tx}
		txStore.bind(tx)
		return fn(ctx, txStore)
	})
	if err != nil && !sentinel.IsRetryable(err) {
		// Commit-time serialization failures surface here unwrapped.
		if translated := bunx.TranslateError("commit", err); sentinel.IsRetryable(translated) {
			return translated
		}
	}
	return err
}

// LockScope takes an exclusive lock on key for the rest of the transaction.
func (s *Store) LockScope(ctx context.Context, key string) error {
	if s.tx == nil {
		return fmt.Errorf("lock scope %s: %w", key, errNoTransaction)
	}
	return bunx.LockScope(ctx, *s.tx, key)
}

var errNoTransaction = fmt.Errorf("no transaction: %w", sentinel.ErrInvariant)
