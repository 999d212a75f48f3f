// Package subscriptions materializes per-user notification subscriptions
// from per-role discussion templates.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/materialize"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

const tracerName = "assemblapi/services/subscriptions"

// Defaults provides the classes active by default per role name.
type Defaults interface {
	DefaultClasses(role string) []string
}

// RoleResolver provides the roles a user holds in a discussion.
type RoleResolver interface {
	Roles(ctx context.Context, userID, discussionID string) ([]string, error)
}

// Service materializes subscriptions at most once per (user, discussion).
type Service struct {
	store    *repository.Store
	roles    RoleResolver
	defaults Defaults
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	maxAttempts int
	flights     singleflight.Group
	roleIDs     sync.Map
}

// NewService constructs a new Service instance.
func NewService(store *repository.Store, roles RoleResolver, defaults Defaults) *Service {
	return &Service{
		store:    store,
		roles:    roles,
		defaults: defaults,
		logger:   logging.Discard(),
	}
}

// WithMetrics adds Prometheus instruments (optional dependency).
func (s *Service) WithMetrics(metrics *telemetry.Metrics) *Service {
	s.metrics = metrics
	return s
}

// WithLogger sets the logger (optional dependency).
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With("component", "subscriptions")
	return s
}

// WithMaxAttempts bounds retries after concurrent modifications.
func (s *Service) WithMaxAttempts(n int) *Service {
	s.maxAttempts = n
	return s
}

func scopeKey(userID, discussionID string) string {
	return "subscriptions:" + userID + ":" + discussionID
}

func (s *Service) onceOptions(kind string) materialize.Options {
	return materialize.Options{
		MaxAttempts: s.maxAttempts,
		OnLock:      s.metrics.IncMaterializeLock,
		OnRetry: func(attempt int, err error) {
			s.metrics.IncConflictRetry(kind)
			s.logger.Warn("retrying materialization", "kind", kind, "attempt", attempt, "error", err)
		},
	}
}

func (s *Service) checkDiscussion(ctx context.Context, discussionID string) error {
	exists, err := s.store.Discussions.Exists(ctx, discussionID)
	if err != nil {
		return fmt.Errorf("check discussion %s: %w", discussionID, err)
	}
	if !exists {
		return &DiscussionNotFoundError{DiscussionID: discussionID}
	}
	return nil
}

type userState struct {
	existing []*models.NotificationSubscription
}

// GetOrMaterialize returns the subscriptions of userID in discussionID,
// creating the missing default ones first.
//
// With reset, subscriptions that still carry the discussion default origin
// and are active, but whose class is now inactive in every template of the
// user's roles, are deleted and recreated from the templates. Subscriptions
// the user chose are never touched.
//
// Concurrent calls for the same pair in this process share one execution;
// across processes the scope lock guarantees one row per class.
func (s *Service) GetOrMaterialize(ctx context.Context, userID, discussionID string, reset bool) ([]*models.NotificationSubscription, error) {
	key := scopeKey(userID, discussionID) + ":" + strconv.FormatBool(reset)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.materialize(context.WithoutCancel(ctx), userID, discussionID, reset)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]*models.NotificationSubscription)), nil
}

// MaterializeDefaults materializes without returning the rows.
func (s *Service) MaterializeDefaults(ctx context.Context, userID, discussionID string, reset bool) error {
	_, err := s.GetOrMaterialize(ctx, userID, discussionID, reset)
	return err
}

func (s *Service) materialize(ctx context.Context, userID, discussionID string, reset bool) ([]*models.NotificationSubscription, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "subscriptions.GetOrMaterialize",
		attribute.String(telemetry.AttrProfileID, userID),
		attribute.String(telemetry.AttrDiscussionID, discussionID),
		attribute.Bool(telemetry.AttrReset, reset),
	)
	defer span.End()
	defer s.metrics.ObserveOperation("materialize_subscriptions", time.Now())

	if userID == "" {
		return nil, fmt.Errorf("user is required: %w", sentinel.ErrInvalidInput)
	}
	if err := s.checkDiscussion(ctx, discussionID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Templates are materialized in their own transactions, before the
	// user's scope lock is taken.
	var subscribed map[string]bool

	op := materialize.Op[*repository.Store, userState]{
		Scope: scopeKey(userID, discussionID),
		Read: func(ctx context.Context, st *repository.Store, locked bool) (userState, bool, error) {
			existing, err := st.Subscriptions.ListForUser(ctx, userID, discussionID, locked)
			if err != nil {
				return userState{}, false, err
			}
			state := userState{existing: existing}
			if len(missingClasses(existing)) == 0 && !reset {
				return state, false, nil
			}
			if !locked && subscribed == nil {
				if subscribed, err = s.subscribedFor(ctx, userID, discussionID); err != nil {
					return userState{}, false, err
				}
			}
			return state, true, nil
		},
		Write: func(ctx context.Context, tx *repository.Store, state userState) (userState, error) {
			return s.writeDefaults(ctx, tx, userID, discussionID, state, subscribed, reset)
		},
	}

	state, outcome, err := materialize.Once(ctx, s.store, op, s.onceOptions("user"))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("materialize subscriptions of %s in %s: %w", userID, discussionID, err)
	}
	if outcome.Wrote {
		telemetry.AddEvent(span, "subscriptions.materialized")
	}
	sortByClass(state.existing)
	return state.existing, nil
}

func (s *Service) writeDefaults(
	ctx context.Context,
	tx *repository.Store,
	userID, discussionID string,
	state userState,
	subscribed map[string]bool,
	reset bool,
) (userState, error) {
	existing := state.existing

	if reset {
		var stale []string
		kept := existing[:0:0]
		for _, sub := range existing {
			active, known := subscribed[sub.Class]
			if sub.CreationOrigin == models.OriginDiscussionDefault &&
				sub.Status == models.SubscriptionActive &&
				known && !active {
				stale = append(stale, sub.ID)
				continue
			}
			kept = append(kept, sub)
		}
		if err := tx.Subscriptions.Delete(ctx, stale...); err != nil {
			return userState{}, err
		}
		if len(stale) > 0 {
			s.logger.Info("reset default subscriptions", "user_id", userID, "discussion_id", discussionID, "deleted", len(stale))
		}
		existing = kept
	}

	var created []*models.NotificationSubscription
	for _, class := range missingClasses(existing) {
		status := models.SubscriptionInactiveDefault
		if subscribed[class] {
			status = models.SubscriptionActive
		}
		created = append(created, &models.NotificationSubscription{
			Class:          class,
			UserID:         userID,
			DiscussionID:   discussionID,
			Status:         status,
			CreationOrigin: models.OriginDiscussionDefault,
		})
	}
	if err := tx.Subscriptions.CreateMany(ctx, created); err != nil {
		return userState{}, err
	}

	for _, sub := range created {
		s.metrics.AddMaterialized(sub.Status, 1)
	}
	if len(created) > 0 {
		s.logger.Info("subscriptions materialized", "user_id", userID, "discussion_id", discussionID, "created", len(created))
	}
	return userState{existing: append(existing, created...)}, nil
}

// SetSubscriptionStatus records a user's explicit choice for one class. The
// subscription becomes user chosen, so resets never revert it.
func (s *Service) SetSubscriptionStatus(ctx context.Context, userID, discussionID, class, status string) (*models.NotificationSubscription, error) {
	if !IsApplicable(class) {
		return nil, fmt.Errorf("unknown subscription class %q: %w", class, sentinel.ErrInvalidInput)
	}
	stored, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown subscription status %q: %w", status, sentinel.ErrInvalidInput)
	}

	if _, err := s.GetOrMaterialize(ctx, userID, discussionID, false); err != nil {
		return nil, err
	}

	var sub *models.NotificationSubscription
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		if err := tx.LockScope(ctx, scopeKey(userID, discussionID)); err != nil {
			return err
		}
		var err error
		sub, err = tx.Subscriptions.Get(ctx, userID, discussionID, class)
		if err != nil {
			return err
		}
		sub.Status = stored
		sub.CreationOrigin = models.OriginUserChosen
		sub.UpdatedAt = time.Now().UTC()
		return tx.Subscriptions.Update(ctx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("set subscription %s of %s in %s: %w", class, userID, discussionID, err)
	}
	s.logger.Info("subscription changed", "user_id", userID, "discussion_id", discussionID, "class", class, "status", stored)
	return sub, nil
}
