// Package reconcile merges duplicate identities: one profile absorbs the
// accounts, content, roles and subscriptions of another.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/materialize"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

const tracerName = "assemblapi/services/reconcile"

// Invalidator drops cached authorization state of users.
type Invalidator interface {
	InvalidateUser(userIDs ...string)
}

// Result counts what a merge moved.
type Result struct {
	TargetID string `json:"target_id"`
	SourceID string `json:"source_id"`

	CoalescedAccounts  int `json:"coalesced_accounts"`
	ReparentedAccounts int `json:"reparented_accounts"`

	Posts    int64 `json:"posts"`
	Extracts int64 `json:"extracts"`
	Actions  int64 `json:"actions"`

	GlobalRoles   int `json:"global_roles"`
	LocalRoles    int `json:"local_roles"`
	Subscriptions int `json:"subscriptions"`
	Dropped       int `json:"dropped_duplicates"`

	AdoptedCredential bool `json:"adopted_credential"`
	MovedUsername     bool `json:"moved_username"`
}

// Service reconciles profiles.
type Service struct {
	store       *repository.Store
	invalidator Invalidator
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	maxAttempts int
}

// NewService constructs a new Service instance.
func NewService(store *repository.Store) *Service {
	return &Service{
		store:       store,
		logger:      logging.Discard(),
		maxAttempts: materialize.DefaultMaxAttempts,
	}
}

// WithInvalidator sets the permission cache to flush after merges.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	s.invalidator = inv
	return s
}

// WithMetrics adds Prometheus instruments (optional dependency).
func (s *Service) WithMetrics(metrics *telemetry.Metrics) *Service {
	s.metrics = metrics
	return s
}

// WithLogger sets the logger (optional dependency).
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With("component", "reconcile")
	return s
}

// WithMaxAttempts bounds retries after concurrent modifications.
func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

// MergeProfiles folds sourceID into targetID and deletes the source, all in
// one transaction. The whole transaction is retried when the store reports
// a concurrent modification.
func (s *Service) MergeProfiles(ctx context.Context, targetID, sourceID string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "reconcile.MergeProfiles",
		attribute.String(telemetry.AttrTargetID, targetID),
		attribute.String(telemetry.AttrSourceID, sourceID),
	)
	defer span.End()
	defer s.metrics.ObserveOperation("merge_profiles", time.Now())

	if targetID == "" || sourceID == "" || targetID == sourceID {
		s.metrics.IncMerge("rejected")
		return nil, fmt.Errorf("cannot merge %q into %q: %w", sourceID, targetID, sentinel.ErrInvalidInput)
	}

	var (
		result *Result
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = s.mergeOnce(ctx, targetID, sourceID)
		if err == nil || !sentinel.IsRetryable(err) {
			break
		}
		if attempt >= s.maxAttempts {
			err = fmt.Errorf("%w after %d attempts merging %s into %s: %w", materialize.ErrExhausted, attempt, sourceID, targetID, err)
			break
		}
		s.metrics.IncConflictRetry("merge")
		s.logger.Warn("retrying merge", "target_id", targetID, "source_id", sourceID, "attempt", attempt, "error", err)
	}

	if err != nil {
		telemetry.RecordError(span, err)
		var incompatible *IncompatibleMergeError
		switch {
		case errors.As(err, &incompatible), errors.Is(err, sentinel.ErrInvalidInput), errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncMerge("rejected")
		case errors.Is(err, sentinel.ErrInvariant):
			s.metrics.IncMerge("failed")
			s.logger.Error("merge broke an invariant", "target_id", targetID, "source_id", sourceID, "error", err)
		default:
			s.metrics.IncMerge("failed")
		}
		return nil, err
	}

	s.metrics.IncMerge("merged")
	s.metrics.AddMergedAccounts("coalesced", result.CoalescedAccounts)
	s.metrics.AddMergedAccounts("reparented", result.ReparentedAccounts)
	if s.invalidator != nil {
		s.invalidator.InvalidateUser(targetID, sourceID)
	}
	telemetry.AddEvent(span, "profiles.merged")
	s.logger.Info("profiles merged",
		"target_id", targetID,
		"source_id", sourceID,
		"coalesced_accounts", result.CoalescedAccounts,
		"reparented_accounts", result.ReparentedAccounts,
		"dropped_duplicates", result.Dropped,
		"adopted_credential", result.AdoptedCredential,
	)
	return result, nil
}

func (s *Service) mergeOnce(ctx context.Context, targetID, sourceID string) (*Result, error) {
	var result *Result
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		// Lock both profiles in a fixed order so crossing merges cannot deadlock.
		first, second := targetID, sourceID
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			if err := tx.LockScope(ctx, "profile:"+id); err != nil {
				return err
			}
		}

		target, err := tx.Profiles.GetByID(ctx, targetID)
		if err != nil {
			return err
		}
		source, err := tx.Profiles.GetByID(ctx, sourceID)
		if err != nil {
			return err
		}
		if target.Kind == models.ProfileKindUserTemplate || source.Kind == models.ProfileKindUserTemplate {
			return fmt.Errorf("user templates cannot be merged: %w", sentinel.ErrInvalidInput)
		}

		result, err = Merge(ctx, tx, target, source)
		if err != nil {
			return err
		}
		return tx.Profiles.Delete(ctx, source.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("merge %s into %s: %w", sourceID, targetID, err)
	}
	return result, nil
}

// Merge moves everything source owns onto target, leaving source an empty
// shell for the caller to delete. tx must be a transaction.
func Merge(ctx context.Context, tx *repository.Store, target, source *models.Profile) (*Result, error) {
	if !tx.InTx() {
		return nil, &sentinel.InvariantViolation{Invariant: "merge-in-transaction", Detail: "merge called outside a transaction"}
	}
	if source.IsUser() && !target.IsUser() {
		return nil, &IncompatibleMergeError{TargetID: target.ID, SourceID: source.ID, Reason: "a plain profile cannot absorb a user"}
	}

	result := &Result{TargetID: target.ID, SourceID: source.ID}

	if err := mergeAccounts(ctx, tx, target, source, result); err != nil {
		return nil, err
	}

	if target.Name == "" && source.Name != "" {
		target.Name = source.Name
		if err := tx.Profiles.Update(ctx, target); err != nil {
			return nil, err
		}
	}

	// Content references profiles without cascading, so it moves whatever
	// the kinds involved.
	var err error
	if result.Actions, err = tx.Content.ReparentActions(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}
	if result.Posts, err = tx.Content.ReparentPosts(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}
	if result.Extracts, err = tx.Content.ReparentExtracts(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}

	if source.IsUser() && target.IsUser() {
		if err := mergeUsers(ctx, tx, target.ID, source.ID, result); err != nil {
			return nil, err
		}
	}

	if err := checkSignatures(ctx, tx, target.ID); err != nil {
		return nil, err
	}
	return result, nil
}
