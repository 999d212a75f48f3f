package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/materialize"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

// template returns the user template of (discussion, role). When create is
// false a missing template yields (nil, nil).
func (s *Service) template(ctx context.Context, discussionID, roleName string, create bool) (*models.UserTemplate, error) {
	roleID, err := s.roleID(ctx, roleName)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.store.Templates.Get(ctx, discussionID, roleID)
	if err == nil {
		return tmpl, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	if !create {
		return nil, nil
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		var err error
		tmpl, err = tx.Templates.Create(ctx, discussionID, roleID)
		return err
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// Created concurrently.
		return s.store.Templates.Get(ctx, discussionID, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("create template for %s in %s: %w", roleName, discussionID, err)
	}
	s.logger.Info("user template created", "discussion_id", discussionID, "role", roleName, "profile_id", tmpl.ProfileID)
	return tmpl, nil
}

func (s *Service) roleID(ctx context.Context, roleName string) (string, error) {
	if id, ok := s.roleIDs.Load(roleName); ok {
		return id.(string), nil
	}
	role, err := s.store.Roles.GetByName(ctx, roleName)
	if err != nil {
		return "", fmt.Errorf("role %s: %w", roleName, err)
	}
	s.roleIDs.Store(roleName, role.ID)
	return role.ID, nil
}

// TemplateSubscriptions materializes and returns the subscriptions of a
// template. Statuses come from the configured defaults of its role.
func (s *Service) TemplateSubscriptions(ctx context.Context, tmpl *models.UserTemplate, roleName string) ([]*models.NotificationSubscription, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "subscriptions.TemplateSubscriptions",
		attribute.String(telemetry.AttrProfileID, tmpl.ProfileID),
		attribute.String(telemetry.AttrDiscussionID, tmpl.DiscussionID),
		attribute.String(telemetry.AttrRole, roleName),
	)
	defer span.End()

	op := materialize.Op[*repository.Store, []*models.NotificationSubscription]{
		Scope: scopeKey(tmpl.ProfileID, tmpl.DiscussionID),
		Read: func(ctx context.Context, st *repository.Store, locked bool) ([]*models.NotificationSubscription, bool, error) {
			subs, err := st.Subscriptions.ListForUser(ctx, tmpl.ProfileID, tmpl.DiscussionID, locked)
			if err != nil {
				return nil, false, err
			}
			return subs, len(missingClasses(subs)) > 0, nil
		},
		Write: func(ctx context.Context, tx *repository.Store, existing []*models.NotificationSubscription) ([]*models.NotificationSubscription, error) {
			active := s.activeByDefault(roleName)
			var created []*models.NotificationSubscription
			for _, class := range missingClasses(existing) {
				status := models.SubscriptionInactiveDefault
				if active[class] {
					status = models.SubscriptionActive
				}
				created = append(created, &models.NotificationSubscription{
					Class:          class,
					UserID:         tmpl.ProfileID,
					DiscussionID:   tmpl.DiscussionID,
					Status:         status,
					CreationOrigin: models.OriginDiscussionDefault,
				})
			}
			if err := tx.Subscriptions.CreateMany(ctx, created); err != nil {
				return nil, err
			}
			return append(existing, created...), nil
		},
	}

	subs, _, err := materialize.Once(ctx, s.store, op, s.onceOptions("template"))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("materialize template %s: %w", tmpl.ProfileID, err)
	}
	sortByClass(subs)
	return subs, nil
}

// activeByDefault reads the configured default classes of role, dropping
// unknown names.
func (s *Service) activeByDefault(roleName string) map[string]bool {
	active := make(map[string]bool)
	for _, class := range s.defaults.DefaultClasses(roleName) {
		if !IsApplicable(class) {
			s.logger.Warn("ignoring unknown default subscription class", "role", roleName, "class", class)
			continue
		}
		active[class] = true
	}
	return active
}

// subscribedFor ORs the active status of every class over the templates of
// the user's roles. Only the participant template is created on demand; a
// role without a template contributes nothing.
func (s *Service) subscribedFor(ctx context.Context, userID, discussionID string) (map[string]bool, error) {
	roles, err := s.roles.Roles(ctx, userID, discussionID)
	if err != nil {
		return nil, fmt.Errorf("roles of %s in %s: %w", userID, discussionID, err)
	}

	subscribed := make(map[string]bool)
	for _, role := range roles {
		tmpl, err := s.template(ctx, discussionID, role, role == auth.RoleParticipant)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			continue
		}
		subs, err := s.TemplateSubscriptions(ctx, tmpl, role)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			subscribed[sub.Class] = subscribed[sub.Class] || sub.Status == models.SubscriptionActive
		}
	}
	return subscribed, nil
}

// TemplateDefaults returns class → active for the template of role in a
// discussion, creating the template when needed.
func (s *Service) TemplateDefaults(ctx context.Context, discussionID, roleName string) (map[string]bool, error) {
	if err := s.checkDiscussion(ctx, discussionID); err != nil {
		return nil, err
	}
	tmpl, err := s.template(ctx, discussionID, roleName, true)
	if err != nil {
		return nil, err
	}
	subs, err := s.TemplateSubscriptions(ctx, tmpl, roleName)
	if err != nil {
		return nil, err
	}
	defaults := make(map[string]bool, len(subs))
	for _, sub := range subs {
		defaults[sub.Class] = sub.Status == models.SubscriptionActive
	}
	return defaults, nil
}

// SetTemplateStatus changes whether class is active by default for role in a
// discussion. Users pick the change up on their next reset.
func (s *Service) SetTemplateStatus(ctx context.Context, discussionID, roleName, class string, active bool) error {
	if !IsApplicable(class) {
		return fmt.Errorf("unknown subscription class %q: %w", class, sentinel.ErrInvalidInput)
	}
	if err := s.checkDiscussion(ctx, discussionID); err != nil {
		return err
	}
	tmpl, err := s.template(ctx, discussionID, roleName, true)
	if err != nil {
		return err
	}
	if _, err := s.TemplateSubscriptions(ctx, tmpl, roleName); err != nil {
		return err
	}

	status := models.SubscriptionInactiveDefault
	if active {
		status = models.SubscriptionActive
	}
	return s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		if err := tx.LockScope(ctx, scopeKey(tmpl.ProfileID, discussionID)); err != nil {
			return err
		}
		sub, err := tx.Subscriptions.Get(ctx, tmpl.ProfileID, discussionID, class)
		if err != nil {
			return err
		}
		sub.Status = status
		sub.UpdatedAt = time.Now().UTC()
		return tx.Subscriptions.Update(ctx, sub)
	})
}
