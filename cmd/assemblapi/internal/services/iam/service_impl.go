package iam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/config"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

const tracerName = "assemblapi/services/iam"

// iamService implements the Service interface.
//
// Writes that go through the Casbin adapter use the root connection, so they
// must never run inside a store transaction.
type iamService struct {
	store    *repository.Store
	enforcer casbin.IEnforcer
	cache    *PermissionCache
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	authenticators []Authenticator

	mu           sync.RWMutex
	materializer Materializer
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
type IAMServiceDependencies struct {
	Store    *repository.Store
	Enforcer casbin.IEnforcer
	// Tokens enables bearer authentication when set
	Tokens  *auth.TokenIssuer
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// IAMServiceConfig contains configuration for IAM service construction.
type IAMServiceConfig struct {
	Permissions config.PermissionsConfig
}

// NewIAMService creates a new IAM service with all dependencies.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("iam service requires a store")
	}
	if deps.Enforcer == nil {
		return nil, fmt.Errorf("iam service requires a casbin enforcer")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	svc := &iamService{
		store:    deps.Store,
		enforcer: deps.Enforcer,
		cache:    NewPermissionCache(cfg.Permissions.CacheSize, cfg.Permissions.CacheTTL, deps.Metrics),
		metrics:  deps.Metrics,
		logger:   logger.With("component", "iam"),
	}
	if deps.Tokens != nil {
		svc.authenticators = append(svc.authenticators,
			NewJWTAuthenticator(deps.Tokens, deps.Store.Users, deps.Store.RevokedTokens))
	}
	return svc, nil
}

func (s *iamService) SetMaterializer(m Materializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materializer = m
}

// =============================================================================
// Authentication
// =============================================================================

func (s *iamService) Authenticate(ctx context.Context, req AuthRequest) (auth.Principal, error) {
	for _, authenticator := range s.authenticators {
		principal, err := authenticator.Authenticate(ctx, req)
		if err != nil {
			return auth.Principal{}, err
		}
		if principal != nil {
			return *principal, nil
		}
	}
	return auth.Principal{}, nil
}

// =============================================================================
// Authorization
// =============================================================================

func (s *iamService) Roles(ctx context.Context, userID, discussionID string) ([]string, error) {
	roles := auth.ImplicitRoles(userID != "")
	if userID == "" {
		return roles, nil
	}

	global, err := s.store.Roles.GlobalRoleNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("global roles of %s: %w", userID, err)
	}
	roles = append(roles, global...)

	if discussionID != "" {
		local, err := s.store.Roles.LocalRoleNames(ctx, userID, discussionID)
		if err != nil {
			return nil, fmt.Errorf("local roles of %s in %s: %w", userID, discussionID, err)
		}
		roles = append(roles, local...)
	}

	slices.Sort(roles)
	return slices.Compact(roles), nil
}

func (s *iamService) EffectivePermissions(ctx context.Context, userID, discussionID string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.EffectivePermissions",
		attribute.String(telemetry.AttrProfileID, userID),
		attribute.String(telemetry.AttrDiscussionID, discussionID),
	)
	defer span.End()
	defer s.metrics.ObserveOperation("effective_permissions", time.Now())

	gen := s.cache.Generation()
	if perms, ok := s.cache.Get(userID, discussionID); ok {
		return perms, nil
	}

	perms, err := s.resolvePermissions(ctx, userID, discussionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.cache.PutIfCurrent(userID, discussionID, gen, perms)
	return perms, nil
}

func (s *iamService) resolvePermissions(ctx context.Context, userID, discussionID string) ([]string, error) {
	if discussionID == "" {
		return []string{}, nil
	}
	exists, err := s.store.Discussions.Exists(ctx, discussionID)
	if err != nil {
		return nil, fmt.Errorf("check discussion %s: %w", discussionID, err)
	}
	if !exists {
		return []string{}, nil
	}

	roles, err := s.Roles(ctx, userID, discussionID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(roles, auth.RoleSysadmin) {
		return slices.Clone(auth.AllPermissions), nil
	}
	return PermissionsForRoles(s.enforcer, roles, discussionID)
}

func (s *iamService) HasPermission(ctx context.Context, userID, discussionID, permission string, subject Owned) (bool, error) {
	if userID != "" && subject != nil && subject.OwnerID() == userID {
		return true, nil
	}
	perms, err := s.EffectivePermissions(ctx, userID, discussionID)
	if err != nil {
		return false, err
	}
	return slices.Contains(perms, permission), nil
}

func (s *iamService) IsSysadmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	global, err := s.store.Roles.GlobalRoleNames(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("global roles of %s: %w", userID, err)
	}
	return slices.Contains(global, auth.RoleSysadmin), nil
}

// =============================================================================
// Role Grants
// =============================================================================

func (s *iamService) AddLocalRole(ctx context.Context, actorID string, req LocalRoleRequest) (*models.LocalUserRole, error) {
	if actorID == "" {
		return nil, fmt.Errorf("anonymous callers cannot register: %w", sentinel.ErrForbidden)
	}
	if req.UserID == "" {
		req.UserID = actorID
	}

	exists, err := s.store.Discussions.Exists(ctx, req.DiscussionID)
	if err != nil {
		return nil, fmt.Errorf("check discussion %s: %w", req.DiscussionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("discussion %s: %w", req.DiscussionID, sentinel.ErrNotFound)
	}

	perms, err := s.EffectivePermissions(ctx, actorID, req.DiscussionID)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(perms, auth.PermAdminDiscussion) {
		if req.UserID != actorID {
			return nil, fmt.Errorf("%s may not grant roles to %s: %w", actorID, req.UserID, sentinel.ErrForbidden)
		}
		switch {
		case slices.Contains(perms, auth.PermSelfRegister):
			req.Role = auth.RoleParticipant
			req.Requested = false
		case slices.Contains(perms, auth.PermSelfRegisterRequest):
			req.Requested = true
		default:
			return nil, fmt.Errorf("%s may not register in %s: %w", actorID, req.DiscussionID, sentinel.ErrForbidden)
		}
	}

	return s.GrantLocalRole(ctx, req)
}

func (s *iamService) GrantLocalRole(ctx context.Context, req LocalRoleRequest) (*models.LocalUserRole, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.GrantLocalRole",
		attribute.String(telemetry.AttrProfileID, req.UserID),
		attribute.String(telemetry.AttrDiscussionID, req.DiscussionID),
		attribute.String(telemetry.AttrRole, req.Role),
	)
	defer span.End()

	if req.UserID == "" || req.DiscussionID == "" || req.Role == "" {
		return nil, fmt.Errorf("user, discussion and role are required: %w", sentinel.ErrInvalidInput)
	}
	if auth.IsImplicitRole(req.Role) {
		return nil, fmt.Errorf("role %s cannot be granted: %w", req.Role, sentinel.ErrInvalidInput)
	}

	var (
		lur     *models.LocalUserRole
		changed bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		var err error
		lur, changed, err = grantLocalRoleTx(ctx, tx, req)
		return err
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// A concurrent confirmed grant won the partial unique index.
		lur, err = s.findConfirmed(ctx, req)
		changed = false
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if changed && !lur.Requested {
		s.logger.Info("local role granted", "user_id", req.UserID, "discussion_id", req.DiscussionID, "role", req.Role)
		s.afterConfirmedGrant(ctx, lur)
	}
	return lur, nil
}

func grantLocalRoleTx(ctx context.Context, tx *repository.Store, req LocalRoleRequest) (*models.LocalUserRole, bool, error) {
	if _, err := tx.Users.GetByID(ctx, req.UserID); err != nil {
		return nil, false, fmt.Errorf("user %s: %w", req.UserID, err)
	}
	role, err := tx.Roles.GetByName(ctx, req.Role)
	if err != nil {
		return nil, false, fmt.Errorf("role %s: %w", req.Role, err)
	}

	existing, err := tx.Roles.FindLocalRoles(ctx, req.UserID, req.DiscussionID, role.ID)
	if err != nil {
		return nil, false, err
	}

	var pending *models.LocalUserRole
	for _, lur := range existing {
		if !lur.Requested {
			// Confirmed grants satisfy both requests and grants.
			return lur, false, nil
		}
		pending = lur
	}

	if req.Requested {
		if pending != nil {
			return pending, false, nil
		}
	} else if pending != nil {
		pending.Requested = false
		if err := tx.Roles.UpdateLocalRole(ctx, pending); err != nil {
			return nil, false, err
		}
		return pending, true, nil
	}

	lur := &models.LocalUserRole{
		UserID:       req.UserID,
		DiscussionID: req.DiscussionID,
		RoleID:       role.ID,
		Requested:    req.Requested,
	}
	if err := tx.Roles.CreateLocalRole(ctx, lur); err != nil {
		return nil, false, err
	}
	return lur, true, nil
}

func (s *iamService) findConfirmed(ctx context.Context, req LocalRoleRequest) (*models.LocalUserRole, error) {
	role, err := s.store.Roles.GetByName(ctx, req.Role)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", req.Role, err)
	}
	existing, err := s.store.Roles.FindLocalRoles(ctx, req.UserID, req.DiscussionID, role.ID)
	if err != nil {
		return nil, err
	}
	for _, lur := range existing {
		if !lur.Requested {
			return lur, nil
		}
	}
	return nil, fmt.Errorf("local role %s for %s in %s: %w", req.Role, req.UserID, req.DiscussionID, sentinel.ErrConcurrentModification)
}

// afterConfirmedGrant invalidates the user's cached permissions and resets
// their default subscriptions to the new role set. Materialization failures
// are logged; the grant itself has committed.
func (s *iamService) afterConfirmedGrant(ctx context.Context, lur *models.LocalUserRole) {
	s.cache.InvalidateUser(lur.UserID)

	s.mu.RLock()
	materializer := s.materializer
	s.mu.RUnlock()
	if materializer == nil {
		return
	}
	if err := materializer.MaterializeDefaults(ctx, lur.UserID, lur.DiscussionID, true); err != nil {
		s.logger.Error("materialize subscriptions after grant failed",
			"user_id", lur.UserID, "discussion_id", lur.DiscussionID, "error", err)
	}
}

func (s *iamService) ConfirmLocalRole(ctx context.Context, id string) (*models.LocalUserRole, error) {
	var (
		lur     *models.LocalUserRole
		changed bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		current, err := tx.Roles.GetLocalRole(ctx, id)
		if err != nil {
			return err
		}
		if !current.Requested {
			lur = current
			return nil
		}

		siblings, err := tx.Roles.FindLocalRoles(ctx, current.UserID, current.DiscussionID, current.RoleID)
		if err != nil {
			return err
		}
		for _, sibling := range siblings {
			if !sibling.Requested {
				// Already granted; the request is redundant.
				lur = sibling
				return tx.Roles.DeleteLocalRole(ctx, current.ID)
			}
		}

		current.Requested = false
		if err := tx.Roles.UpdateLocalRole(ctx, current); err != nil {
			return err
		}
		lur, changed = current, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm local role %s: %w", id, err)
	}
	if changed {
		s.logger.Info("local role confirmed", "id", id, "user_id", lur.UserID, "discussion_id", lur.DiscussionID)
		s.afterConfirmedGrant(ctx, lur)
	}
	return lur, nil
}

func (s *iamService) RevokeLocalRole(ctx context.Context, id string) error {
	lur, err := s.store.Roles.GetLocalRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Roles.DeleteLocalRole(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateUser(lur.UserID)
	s.logger.Info("local role revoked", "id", id, "user_id", lur.UserID, "discussion_id", lur.DiscussionID)
	return nil
}

func (s *iamService) ListLocalRoles(ctx context.Context, userID string) ([]*models.LocalUserRole, error) {
	return s.store.Roles.ListLocalRoles(ctx, userID)
}

func (s *iamService) GrantGlobalRole(ctx context.Context, userID, roleName string) error {
	if auth.IsImplicitRole(roleName) {
		return fmt.Errorf("role %s cannot be granted: %w", roleName, sentinel.ErrInvalidInput)
	}
	role, err := s.store.Roles.GetByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("role %s: %w", roleName, err)
	}
	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	if err := s.store.Roles.GrantGlobal(ctx, userID, role.ID); err != nil {
		return err
	}
	s.cache.InvalidateUser(userID)
	s.logger.Info("global role granted", "user_id", userID, "role", roleName)
	return nil
}

func (s *iamService) RevokeGlobalRole(ctx context.Context, userID, roleName string) error {
	role, err := s.store.Roles.GetByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("role %s: %w", roleName, err)
	}
	grants, err := s.store.Roles.ListGlobalRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		if grant.RoleID != role.ID {
			continue
		}
		if err := s.store.Roles.DeleteGlobalRole(ctx, grant.ID); err != nil {
			return err
		}
		s.cache.InvalidateUser(userID)
		s.logger.Info("global role revoked", "user_id", userID, "role", roleName)
		return nil
	}
	return fmt.Errorf("global role %s of %s: %w", roleName, userID, sentinel.ErrNotFound)
}

func (s *iamService) InvalidateUser(userIDs ...string) {
	s.cache.InvalidateUser(userIDs...)
}

// =============================================================================
// Discussions and the Authorization Matrix
// =============================================================================

func (s *iamService) CreateDiscussion(ctx context.Context, slug, topic string) (*models.Discussion, error) {
	if slug == "" {
		return nil, fmt.Errorf("discussion slug is required: %w", sentinel.ErrInvalidInput)
	}
	discussion := &models.Discussion{Slug: slug, Topic: topic}
	if err := s.store.Discussions.Create(ctx, discussion); err != nil {
		return nil, err
	}

	if _, err := s.enforcer.AddPolicies(auth.DefaultPolicies(discussion.ID)); err != nil {
		// A discussion without its default matrix is unusable; drop it.
		if delErr := s.store.Discussions.Delete(ctx, discussion.ID); delErr != nil {
			s.logger.Error("remove unseeded discussion", "discussion_id", discussion.ID, "error", delErr)
		}
		return nil, fmt.Errorf("seed permissions of discussion %s: %w", discussion.ID, err)
	}
	s.cache.InvalidateDiscussion(discussion.ID)
	s.logger.Info("discussion created", "discussion_id", discussion.ID, "slug", slug)
	return discussion, nil
}

func (s *iamService) checkMatrixCell(ctx context.Context, discussionID, role, permission string) error {
	exists, err := s.store.Discussions.Exists(ctx, discussionID)
	if err != nil {
		return fmt.Errorf("check discussion %s: %w", discussionID, err)
	}
	if !exists {
		return fmt.Errorf("discussion %s: %w", discussionID, sentinel.ErrNotFound)
	}
	if _, err := s.store.Roles.GetByName(ctx, role); err != nil {
		return fmt.Errorf("role %s: %w", role, err)
	}
	if !slices.Contains(auth.AllPermissions, permission) {
		return fmt.Errorf("unknown permission %q: %w", permission, sentinel.ErrInvalidInput)
	}
	return nil
}

func (s *iamService) GrantDiscussionPermission(ctx context.Context, discussionID, role, permission string) error {
	if err := s.checkMatrixCell(ctx, discussionID, role, permission); err != nil {
		return err
	}
	if _, err := s.enforcer.AddPolicy(role, discussionID, permission); err != nil {
		return fmt.Errorf("grant %s to %s in %s: %w", permission, role, discussionID, err)
	}
	s.cache.InvalidateDiscussion(discussionID)
	s.logger.Info("discussion permission granted", "discussion_id", discussionID, "role", role, "permission", permission)
	return nil
}

func (s *iamService) RevokeDiscussionPermission(ctx context.Context, discussionID, role, permission string) error {
	if err := s.checkMatrixCell(ctx, discussionID, role, permission); err != nil {
		return err
	}
	removed, err := s.enforcer.RemovePolicy(role, discussionID, permission)
	if err != nil {
		return fmt.Errorf("revoke %s from %s in %s: %w", permission, role, discussionID, err)
	}
	if !removed {
		return fmt.Errorf("permission %s of %s in %s: %w", permission, role, discussionID, sentinel.ErrNotFound)
	}
	s.cache.InvalidateDiscussion(discussionID)
	s.logger.Info("discussion permission revoked", "discussion_id", discussionID, "role", role, "permission", permission)
	return nil
}

func (s *iamService) DiscussionPermissions(ctx context.Context, discussionID string) ([]RolePermission, error) {
	return MatrixForDiscussion(s.enforcer, discussionID)
}

// =============================================================================
// Cache Management
// =============================================================================

func (s *iamService) RefreshPolicies(ctx context.Context) error {
	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("reload casbin policies: %w", err)
	}
	s.cache.Purge()
	s.logger.Debug("policies reloaded")
	return nil
}
