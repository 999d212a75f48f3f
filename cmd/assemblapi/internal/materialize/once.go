// Package materialize implements the optimistic-then-locked double check:
// look for missing state without a lock, and only when something is
// missing take an exclusive scope lock, look again and write.
package materialize

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

// DefaultMaxAttempts bounds retries after concurrent modifications.
const DefaultMaxAttempts = 5

const tracerName = "assemblapi/materialize"

// Store is a transactional store whose transactions are stores of the same
// type. LockScope must hold until the transaction ends.
type Store[S any] interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx S) error) error
	LockScope(ctx context.Context, key string) error
}

// Op describes one materialization.
type Op[S any, T any] struct {
	// Scope is the lock key; it names exactly the rows Write may create.
	Scope string

	// Read returns the current state and whether a write is pending. It is
	// called once without a lock, then again inside the locked transaction
	// with locked set.
	Read func(ctx context.Context, s S, locked bool) (state T, pending bool, err error)

	// Write completes state inside the locked transaction.
	Write func(ctx context.Context, tx S, state T) (T, error)
}

// Options tune retries and observe the phases.
type Options struct {
	MaxAttempts int
	// OnLock is called each time the locked write phase is entered
	OnLock func()
	// OnRetry is called before a retry with the error that caused it
	OnRetry func(attempt int, err error)
}

// Outcome reports what Once did.
type Outcome struct {
	// Wrote is true when Write ran and committed
	Wrote bool
	// Attempts counts read-then-write sequences, at least 1
	Attempts int
}

// ErrExhausted wraps the last retryable error once MaxAttempts is reached.
var ErrExhausted = errors.New("materialize: attempts exhausted")

// Once runs op against s. The common path is a single unlocked Read that
// finds nothing pending. A concurrent caller that wins the race is not an
// error: the locked re-read sees its rows and Once returns them.
//
// Retryable failures (sentinel.IsRetryable) restart the whole sequence from
// the unlocked read, since the precondition may no longer hold.
func Once[S Store[S], T any](ctx context.Context, s S, op Op[S, T], opts Options) (T, Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "materialize.Once",
		attribute.String(telemetry.AttrScope, op.Scope),
	)
	defer span.End()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, wrote, err := once(ctx, s, op, opts)
		if err == nil {
			span.SetAttributes(attribute.Int(telemetry.AttrAttempt, attempt))
			return state, Outcome{Wrote: wrote, Attempts: attempt}, nil
		}
		if !sentinel.IsRetryable(err) {
			telemetry.RecordError(span, err)
			return zero, Outcome{Attempts: attempt}, err
		}

		lastErr = err
		telemetry.AddEvent(span, "materialize.retry", attribute.Int(telemetry.AttrAttempt, attempt))
		if attempt < maxAttempts {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, Outcome{Attempts: attempt}, ctxErr
			}
		}
	}

	err := fmt.Errorf("%w after %d attempts on %s: %w", ErrExhausted, maxAttempts, op.Scope, lastErr)
	telemetry.RecordError(span, err)
	return zero, Outcome{Attempts: maxAttempts}, err
}

func once[S Store[S], T any](ctx context.Context, s S, op Op[S, T], opts Options) (T, bool, error) {
	state, pending, err := op.Read(ctx, s, false)
	if err != nil || !pending {
		return state, false, err
	}

	wrote := false
	err = s.RunInTx(ctx, func(ctx context.Context, tx S) error {
		if err := tx.LockScope(ctx, op.Scope); err != nil {
			return err
		}
		if opts.OnLock != nil {
			opts.OnLock()
		}

		locked, pending, err := op.Read(ctx, tx, true)
		if err != nil {
			return err
		}
		if !pending {
			// Another caller materialized first.
			state = locked
			return nil
		}

		written, err := op.Write(ctx, tx, locked)
		if err != nil {
			return err
		}
		state = written
		wrote = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return state, wrote, nil
}
