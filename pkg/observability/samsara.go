// Samsara-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Samsara semantic convention attributes.
var (
	// Identity attributes
	AttrIdentityID = attribute.Key("samsara.identity.id")
	AttrLineageID  = attribute.Key("samsara.lineage.id")
	AttrGeneration = attribute.Key("samsara.identity.generation")
	AttrState      = attribute.Key("samsara.identity.state")

	// Event attributes
	AttrEventID   = attribute.Key("samsara.event.id")
	AttrEventType = attribute.Key("samsara.event.type")
	AttrSource    = attribute.Key("samsara.event.source")
	AttrSeq       = attribute.Key("samsara.event.seq")

	// Ledger attributes
	AttrToken    = attribute.Key("samsara.token")
	AttrSeverity = attribute.Key("samsara.severity")

	// Lifecycle attributes
	AttrTransitionKind = attribute.Key("samsara.transition.kind")
	AttrSuccessorID    = attribute.Key("samsara.transition.successor_id")

	// Classification attributes
	AttrRole      = attribute.Key("samsara.classify.role")
	AttrAction    = attribute.Key("samsara.classify.action")
	AttrFixedness = attribute.Key("samsara.classify.fixedness")
	AttrFallback  = attribute.Key("samsara.classify.fallback")
)

// EventAttributes builds the standard attribute set for one event.
func EventAttributes(identityID, eventID, eventType, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIdentityID.String(identityID),
		AttrEventID.String(eventID),
		AttrEventType.String(eventType),
		AttrSource.String(source),
	}
}

// SpanIdentity annotates the current span with identity coordinates.
func SpanIdentity(ctx context.Context, identityID string, generation int, state string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		AttrIdentityID.String(identityID),
		AttrGeneration.Int(generation),
		AttrState.String(state),
	)
}

// SpanTransition annotates the current span with a lifecycle transition.
func SpanTransition(ctx context.Context, kind, successorID string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{AttrTransitionKind.String(kind)}
	if successorID != "" {
		attrs = append(attrs, AttrSuccessorID.String(successorID))
	}
	span.SetAttributes(attrs...)
}
