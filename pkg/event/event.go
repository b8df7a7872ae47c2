// Package event defines the immutable karmic event envelope and the
// tagged payload union validated at the ingestion boundary.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samsara-labs/samsara/core/pkg/canonicalize"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// Type categorizes an inbound karmic event.
type Type string

const (
	TypeLifeEvent    Type = "life_event"
	TypeAtonement    Type = "atonement"
	TypeAppeal       Type = "appeal"
	TypeDeathEvent   Type = "death_event"
	TypeStatsRequest Type = "stats_request"
)

// KnownTypes lists the recognized event types in stable order.
func KnownTypes() []Type {
	return []Type{TypeLifeEvent, TypeAtonement, TypeAppeal, TypeDeathEvent, TypeStatsRequest}
}

// ValidType reports whether t is a recognized event type.
func ValidType(t Type) bool {
	switch t {
	case TypeLifeEvent, TypeAtonement, TypeAppeal, TypeDeathEvent, TypeStatsRequest:
		return true
	}
	return false
}

// UnsupportedEventTypeError is returned for unrecognized event types.
// No state mutation occurs when it is raised.
type UnsupportedEventTypeError struct {
	Type string
}

func (e *UnsupportedEventTypeError) Error() string {
	return fmt.Sprintf("event: unsupported event type %q", e.Type)
}

// Inbound is the raw envelope handed to the engine by the calling layer.
// Payload shape is validated against the per-type schema before it
// reaches the classifier.
type Inbound struct {
	EventID    string                 `json:"event_id,omitempty"`
	Type       Type                   `json:"event_type"`
	IdentityID string                 `json:"identity_id"`
	Payload    map[string]interface{} `json:"payload"`
	Source     string                 `json:"source,omitempty"`
}

// KarmicEvent is the immutable applied-event record. AppliedDeltas and
// Classification are filled in at commit time and never change after.
type KarmicEvent struct {
	EventID        string                 `json:"event_id"`
	IdentityID     string                 `json:"identity_id"`
	Type           Type                   `json:"event_type"`
	Payload        Payload                `json:"-"`
	RawPayload     map[string]interface{} `json:"payload"`
	PayloadHash    string                 `json:"payload_hash"`
	Source         string                 `json:"source,omitempty"`
	ReceivedAt     time.Time              `json:"received_at"`
	AppliedDeltas  token.DeltaSet         `json:"applied_deltas,omitempty"`
	Classification map[string]interface{} `json:"classification,omitempty"`
}

// FromInbound validates the envelope and produces a KarmicEvent ready for
// the pipeline. EventID is allocated when the caller did not supply one;
// caller-supplied IDs enable idempotent retry.
func FromInbound(in Inbound, now time.Time) (*KarmicEvent, error) {
	if !ValidType(in.Type) {
		return nil, &UnsupportedEventTypeError{Type: string(in.Type)}
	}
	if in.IdentityID == "" {
		return nil, fmt.Errorf("event: identity_id must not be empty")
	}

	payload, err := DecodePayload(in.Type, in.Payload)
	if err != nil {
		return nil, err
	}

	id := in.EventID
	if id == "" {
		id = uuid.New().String()
	}

	hash, err := canonicalize.CanonicalHash(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("event: payload hash: %w", err)
	}

	return &KarmicEvent{
		EventID:     id,
		IdentityID:  in.IdentityID,
		Type:        in.Type,
		Payload:     payload,
		RawPayload:  in.Payload,
		PayloadHash: hash,
		Source:      in.Source,
		ReceivedAt:  now.UTC(),
	}, nil
}

// Mutates reports whether events of this type may move token balances.
func (e *KarmicEvent) Mutates() bool {
	switch e.Type {
	case TypeLifeEvent, TypeAtonement, TypeAppeal:
		return true
	}
	return false
}
