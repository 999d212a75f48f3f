package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
// This is a convenience wrapper around otel.Tracer().Start() with common patterns.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, "assemblapi/services/iam", "iam.EffectivePermissions",
//	    attribute.String(telemetry.AttrProfileID, userID),
//	    attribute.String(telemetry.AttrDiscussionID, discussionID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
// This is a convenience wrapper to ensure consistent error recording.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
// Use for business events such as coalesced accounts or lost races.
//
// Example:
//
//	telemetry.AddEvent(span, "merge.account_coalesced",
//	    attribute.String("account.signature", sig),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for assembl services
const (
	AttrProfileID    = "profile.id"
	AttrTargetID     = "profile.target_id"
	AttrSourceID     = "profile.source_id"
	AttrDiscussionID = "discussion.id"
	AttrRole         = "role.name"
	AttrPermission   = "permission.name"
	AttrScope        = "materialize.scope"
	AttrAttempt      = "materialize.attempt"
	AttrReset        = "subscriptions.reset"
)
