package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the tagged union of per-type event payloads. The dynamic
// payload dictionaries of the wire format become typed variants here,
// validated before anything downstream sees them.
type Payload interface {
	payloadType() Type
}

// LifeEventPayload describes a behavioral action taken by an identity.
type LifeEventPayload struct {
	Role           string                 `json:"role"`
	Action         string                 `json:"action"`
	IntentWeight   float64                `json:"intent_weight,omitempty"`
	EnergyPolarity float64                `json:"energy_polarity,omitempty"`
	Counterpart    string                 `json:"counterpart,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

func (LifeEventPayload) payloadType() Type { return TypeLifeEvent }

// AtonementPayload describes a corrective practice (charity, devotion,
// austerity). EvidenceRef is an optional content hash pointing into the
// evidence store; size/type enforcement is the calling layer's concern.
type AtonementPayload struct {
	Practice       string  `json:"practice"`
	UnitsCompleted int64   `json:"units_completed"`
	IntentWeight   float64 `json:"intent_weight,omitempty"`
	EvidenceRef    string  `json:"evidence_ref,omitempty"`
}

func (AtonementPayload) payloadType() Type { return TypeAtonement }

// AppealPayload contests a prior classification.
type AppealPayload struct {
	TargetEventID string `json:"target_event_id"`
	Reason        string `json:"reason"`
}

func (AppealPayload) payloadType() Type { return TypeAppeal }

// DeathEventPayload carries the explicit post-death trigger. The death
// threshold is the sole cause of the Alive to Deceased transition; a
// death_event against a Deceased identity requests its rebirth.
type DeathEventPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (DeathEventPayload) payloadType() Type { return TypeDeathEvent }

// StatsRequestPayload asks for a read-only snapshot.
type StatsRequestPayload struct {
	Sections []string `json:"sections,omitempty"`
}

func (StatsRequestPayload) payloadType() Type { return TypeStatsRequest }

// DecodePayload validates raw against the schema for t and decodes it
// into the matching variant.
func DecodePayload(t Type, raw map[string]interface{}) (Payload, error) {
	if !ValidType(t) {
		return nil, &UnsupportedEventTypeError{Type: string(t)}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validatePayload(t, raw); err != nil {
		return nil, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("event: encode payload: %w", err)
	}

	var p Payload
	switch t {
	case TypeLifeEvent:
		var v LifeEventPayload
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("event: decode life_event payload: %w", err)
		}
		// Absent weights default neutral; an explicit zero is kept.
		if _, ok := raw["intent_weight"]; !ok {
			v.IntentWeight = 1.0
		}
		if _, ok := raw["energy_polarity"]; !ok {
			v.EnergyPolarity = 1.0
		}
		p = v
	case TypeAtonement:
		var v AtonementPayload
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("event: decode atonement payload: %w", err)
		}
		if _, ok := raw["intent_weight"]; !ok {
			v.IntentWeight = 1.0
		}
		p = v
	case TypeAppeal:
		var v AppealPayload
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("event: decode appeal payload: %w", err)
		}
		p = v
	case TypeDeathEvent:
		var v DeathEventPayload
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("event: decode death_event payload: %w", err)
		}
		p = v
	case TypeStatsRequest:
		var v StatsRequestPayload
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("event: decode stats_request payload: %w", err)
		}
		p = v
	}
	return p, nil
}
