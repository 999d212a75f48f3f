// Package accounts decides whether an incoming account attaches to an
// existing profile or creates a new one, and manages the accounts, emails
// and credentials of profiles.
package accounts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/materialize"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

const tracerName = "assemblapi/services/accounts"

// Service manages accounts and credentials.
type Service struct {
	store   *repository.Store
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenIssuer
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a new Service instance. tokens may be nil when the
// caller never issues tokens.
func NewService(store *repository.Store, hasher *auth.PasswordHasher, tokens *auth.TokenIssuer) *Service {
	if hasher == nil {
		hasher = auth.NewPasswordHasher()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: logging.Discard(),
		now:    time.Now,
	}
}

// WithMetrics adds Prometheus instruments (optional dependency).
func (s *Service) WithMetrics(metrics *telemetry.Metrics) *Service {
	s.metrics = metrics
	return s
}

// WithLogger sets the logger (optional dependency).
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With("component", "accounts")
	return s
}

func (s *Service) onceOptions(kind string) materialize.Options {
	return materialize.Options{
		OnLock: s.metrics.IncMaterializeLock,
		OnRetry: func(attempt int, err error) {
			s.metrics.IncConflictRetry(kind)
			s.logger.Warn("retrying account lookup", "kind", kind, "attempt", attempt, "error", err)
		},
	}
}

func validateAccount(a *models.Account) error {
	switch a.Kind {
	case models.AccountKindEmail:
		if !strings.Contains(a.Email, "@") {
			return fmt.Errorf("email account needs an address, got %q: %w", a.Email, sentinel.ErrInvalidInput)
		}
	case models.AccountKindPassword:
		if strings.TrimSpace(a.Login) == "" {
			return fmt.Errorf("password account needs a login: %w", sentinel.ErrInvalidInput)
		}
	case models.AccountKindIDProvider:
		if a.ProviderUserID == "" && a.ProviderUsername == "" {
			return fmt.Errorf("provider account needs a user id or username: %w", sentinel.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown account kind %q: %w", a.Kind, sentinel.ErrInvalidInput)
	}
	return nil
}

// accountScope is the lock key for every decision that attaches an account
// signature to a profile. Email paths and GetOrCreate share it.
func accountScope(sig string) string {
	return "account:" + sig
}

func emailScope(email string) string {
	return accountScope(identity.Signature(&models.Account{Kind: models.AccountKindEmail, Email: email}).String())
}

// GetOrCreate returns the existing account sharing the signature of
// candidate, or persists candidate on a new profile. The boolean reports
// whether anything was created.
//
// When several profiles hold the signature, an account owned by a user wins,
// then a verified one, then the lowest id.
func (s *Service) GetOrCreate(ctx context.Context, in *models.Account) (*models.Account, bool, error) {
	candidate := *in
	if candidate.Kind == models.AccountKindEmail {
		candidate.Email = identity.NormalizeEmail(candidate.Email)
	}
	if err := validateAccount(&candidate); err != nil {
		return nil, false, err
	}
	if candidate.Kind == models.AccountKindIDProvider && candidate.ProviderID != nil {
		if _, err := s.store.Providers.GetByID(ctx, *candidate.ProviderID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, false, fmt.Errorf("unknown identity provider %s: %w", *candidate.ProviderID, sentinel.ErrInvalidInput)
			}
			return nil, false, err
		}
	}
	sig := identity.Signature(&candidate).String()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "accounts.GetOrCreate",
		attribute.String("account.kind", candidate.Kind),
	)
	defer span.End()

	op := materialize.Op[*repository.Store, *models.Account]{
		Scope: accountScope(sig),
		Read: func(ctx context.Context, st *repository.Store, _ bool) (*models.Account, bool, error) {
			found, err := st.Accounts.FindBySignature(ctx, sig)
			if err != nil {
				return nil, false, err
			}
			if len(found) == 0 {
				return nil, true, nil
			}
			best, err := pickAccount(ctx, st, found)
			return best, false, err
		},
		Write: func(ctx context.Context, tx *repository.Store, _ *models.Account) (*models.Account, error) {
			profile := &models.Profile{Name: identity.DisplayName(&candidate)}
			if err := tx.Profiles.Create(ctx, profile); err != nil {
				return nil, err
			}
			account := candidate
			account.ID = ""
			account.ProfileID = profile.ID
			if err := tx.Accounts.Create(ctx, &account); err != nil {
				return nil, err
			}
			return &account, nil
		},
	}

	account, outcome, err := materialize.Once(ctx, s.store, op, s.onceOptions("account"))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, fmt.Errorf("get or create %s account: %w", candidate.Kind, err)
	}
	if outcome.Wrote {
		s.logger.Info("profile created for account", "profile_id", account.ProfileID, "account_id", account.ID, "kind", account.Kind)
	}
	return account, outcome.Wrote, nil
}

func pickAccount(ctx context.Context, st *repository.Store, found []*models.Account) (*models.Account, error) {
	isUser := make(map[string]bool, len(found))
	for _, a := range found {
		if _, ok := isUser[a.ProfileID]; ok {
			continue
		}
		profile, err := st.Profiles.GetByID(ctx, a.ProfileID)
		if err != nil {
			return nil, err
		}
		isUser[a.ProfileID] = profile.IsUser()
	}
	return slices.MinFunc(found, func(x, y *models.Account) int {
		if c := cmpTrueFirst(isUser[x.ProfileID], isUser[y.ProfileID]); c != 0 {
			return c
		}
		if c := cmpTrueFirst(x.Verified, y.Verified); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	}), nil
}

func cmpTrueFirst(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// GetOrMakeProfileForEmail returns the profile an email address belongs to.
// Only verified addresses, or addresses on profiles that are not users, are
// trusted. A new profile with an unverified email account is created when
// none qualifies.
func (s *Service) GetOrMakeProfileForEmail(ctx context.Context, email, name string) (*models.Profile, error) {
	email = identity.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q: %w", email, sentinel.ErrInvalidInput)
	}

	op := materialize.Op[*repository.Store, *models.Profile]{
		Scope: emailScope(email),
		Read: func(ctx context.Context, st *repository.Store, _ bool) (*models.Profile, bool, error) {
			candidates, err := st.Accounts.FindEmailCandidates(ctx, email)
			if err != nil {
				return nil, false, err
			}
			var users, others []repository.EmailCandidate
			for _, c := range candidates {
				switch {
				case c.ProfileKind == models.ProfileKindUser && c.Account.Verified:
					users = append(users, c)
				case c.ProfileKind != models.ProfileKindUser:
					others = append(others, c)
				}
			}
			var chosen string
			switch {
			case len(users) > 1:
				return nil, false, &sentinel.InvariantViolation{
					Invariant: "one-user-per-verified-email",
					Detail:    fmt.Sprintf("%s is verified on %d users", email, len(users)),
				}
			case len(users) == 1:
				chosen = users[0].Account.ProfileID
			case len(others) > 0:
				chosen = others[0].Account.ProfileID
			default:
				return nil, true, nil
			}
			profile, err := st.Profiles.GetByID(ctx, chosen)
			return profile, false, err
		},
		Write: func(ctx context.Context, tx *repository.Store, _ *models.Profile) (*models.Profile, error) {
			profile := &models.Profile{Name: name}
			if err := tx.Profiles.Create(ctx, profile); err != nil {
				return nil, err
			}
			account := &models.Account{ProfileID: profile.ID, Kind: models.AccountKindEmail, Email: email}
			if err := tx.Accounts.Create(ctx, account); err != nil {
				return nil, err
			}
			return profile, nil
		},
	}

	profile, outcome, err := materialize.Once(ctx, s.store, op, s.onceOptions("email"))
	if err != nil {
		return nil, fmt.Errorf("profile for email %s: %w", email, err)
	}
	if outcome.Wrote {
		s.logger.Info("profile created for email", "profile_id", profile.ID)
	}
	return profile, nil
}

// NewUser describes a user created by an administrator.
type NewUser struct {
	Name     string
	Email    string
	Verified bool
	Username string
	Password string
}

// CreateUser creates a user together with its email account, username and
// password. The email must not already belong to anyone.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.Profile, error) {
	email := identity.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q: %w", in.Email, sentinel.ErrInvalidInput)
	}

	user := &models.User{CreationDate: s.now().UTC()}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = &hash
	}
	if in.Verified {
		user.Verified = true
		user.PreferredEmail = &email
	}

	account := &models.Account{Kind: models.AccountKindEmail, Email: email, Verified: in.Verified, Preferred: in.Verified}
	profile := &models.Profile{Name: in.Name}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		if err := tx.LockScope(ctx, emailScope(email)); err != nil {
			return err
		}
		existing, err := tx.Accounts.FindBySignature(ctx, identity.Signature(account).String())
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("email %s is already registered: %w", email, sentinel.ErrConflict)
		}
		if err := tx.Users.Create(ctx, profile, user); err != nil {
			return err
		}
		account.ProfileID = profile.ID
		if err := tx.Accounts.Create(ctx, account); err != nil {
			return err
		}
		if in.Username != "" {
			return tx.Users.SetUsername(ctx, profile.ID, in.Username)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	s.logger.Info("user created", "profile_id", profile.ID)
	return profile, nil
}

// Profile returns a profile by id.
func (s *Service) Profile(ctx context.Context, profileID string) (*models.Profile, error) {
	profile, err := s.store.Profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// Lookup finds the profile holding an account with the signature of
// candidate without creating anything.
func (s *Service) Lookup(ctx context.Context, candidate *models.Account) (*models.Account, error) {
	if err := validateAccount(candidate); err != nil {
		return nil, err
	}
	found, err := s.store.Accounts.FindBySignature(ctx, identity.Signature(candidate).String())
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no %s account matches: %w", candidate.Kind, sentinel.ErrNotFound)
	}
	return pickAccount(ctx, s.store, found)
}

var errNoTokens = errors.New("token issuance is not configured")
