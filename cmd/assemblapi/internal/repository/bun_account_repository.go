package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// BunAccountRepository implements AccountRepository using Bun ORM
type BunAccountRepository struct {
	db bun.IDB
}

// NewBunAccountRepository creates a new Bun-based account repository
func NewBunAccountRepository(db bun.IDB) AccountRepository {
	return &BunAccountRepository{db: db}
}

// Create inserts a new account and stamps its signature
func (r *BunAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = bunx.NewID()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	if account.Kind == models.AccountKindEmail {
		account.Email = identity.NormalizeEmail(account.Email)
	}
	identity.Stamp(account)

	if _, err := r.db.NewInsert().Model(account).Exec(ctx); err != nil {
		return bunx.TranslateError("create account", err)
	}
	return nil
}

// GetByID retrieves an account by ID
func (r *BunAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account := new(models.Account)
	if err := r.db.NewSelect().Model(account).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get account %s", id), err)
	}
	return account, nil
}

// Update writes every column and re-stamps the signature
func (r *BunAccountRepository) Update(ctx context.Context, account *models.Account) error {
	identity.Stamp(account)
	result, err := r.db.NewUpdate().Model(account).WherePK().Exec(ctx)
	if err != nil {
		return bunx.TranslateError("update account", err)
	}
	return checkAffected(result, "account", account.ID)
}

// Delete deletes an account by ID
func (r *BunAccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().Model((*models.Account)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete account", err)
	}
	return checkAffected(result, "account", id)
}

// List returns every account ordered by ID
func (r *BunAccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := r.db.NewSelect().Model(&accounts).Order("id").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list accounts", err)
	}
	return accounts, nil
}

// ListByProfile returns the accounts owned by a profile ordered by ID
func (r *BunAccountRepository) ListByProfile(ctx context.Context, profileID string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("profile_id = ?", profileID).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError("list accounts by profile", err)
	}
	return accounts, nil
}

// FindBySignature returns every account sharing a signature, across profiles
func (r *BunAccountRepository) FindBySignature(ctx context.Context, signature string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("signature = ?", signature).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError("find accounts by signature", err)
	}
	return accounts, nil
}

// FindPreferredEmail ranks a profile's email accounts in SQL; nil when none
func (r *BunAccountRepository) FindPreferredEmail(ctx context.Context, profileID string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("profile_id = ?", profileID).
		Where("kind = ?", models.AccountKindEmail).
		Where("email IS NOT NULL AND email <> ''").
		OrderExpr("verified DESC, preferred DESC, id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		err = bunx.TranslateError("find preferred email", err)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

// FindEmailCandidates returns email accounts for email with the kind of
// profile that owns each one
func (r *BunAccountRepository) FindEmailCandidates(ctx context.Context, email string) ([]EmailCandidate, error) {
	var rows []emailCandidateRow
	err := r.db.NewSelect().
		Model(&rows).
		ColumnExpr("a.*").
		ColumnExpr("p.kind AS profile_kind").
		Join("JOIN profiles AS p ON p.id = a.profile_id").
		Where("a.kind = ?", models.AccountKindEmail).
		Where("a.email = ?", identity.NormalizeEmail(email)).
		Order("a.id").
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError("find email candidates", err)
	}

	candidates := make([]EmailCandidate, 0, len(rows))
	for i := range rows {
		account := rows[i].Account
		candidates = append(candidates, EmailCandidate{Account: &account, ProfileKind: rows[i].ProfileKind})
	}
	return candidates, nil
}

type emailCandidateRow struct {
	models.Account `bun:",extend"`
	ProfileKind    string `bun:"profile_kind"`
}

// Reparent moves an account to another profile
func (r *BunAccountRepository) Reparent(ctx context.Context, accountID, profileID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("profile_id = ?", profileID).
		Where("id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("reparent account", err)
	}
	return checkAffected(result, "account", accountID)
}

// ClearPreferred unsets preferred on a profile's accounts except exceptID
func (r *BunAccountRepository) ClearPreferred(ctx context.Context, profileID, exceptID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("preferred = ?", false).
		Where("profile_id = ?", profileID).
		Where("id <> ?", exceptID).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("clear preferred", err)
	}
	return nil
}
