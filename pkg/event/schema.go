package event

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Per-type payload schemas enforced at the ingestion boundary. The engine
// never sees a payload that failed its schema.
var payloadSchemas = map[Type]string{
	TypeLifeEvent: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["role", "action"],
		"properties": {
			"role":            {"type": "string", "minLength": 1},
			"action":          {"type": "string", "minLength": 1},
			"intent_weight":   {"type": "number", "minimum": 0},
			"energy_polarity": {"type": "number", "minimum": -1, "maximum": 1},
			"counterpart":     {"type": "string"},
			"context":         {"type": "object"}
		}
	}`,
	TypeAtonement: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["practice", "units_completed"],
		"properties": {
			"practice":        {"type": "string", "minLength": 1},
			"units_completed": {"type": "integer", "minimum": 0},
			"intent_weight":   {"type": "number", "minimum": 0},
			"evidence_ref":    {"type": "string"}
		}
	}`,
	TypeAppeal: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["target_event_id", "reason"],
		"properties": {
			"target_event_id": {"type": "string", "minLength": 1},
			"reason":          {"type": "string", "minLength": 1}
		}
	}`,
	TypeDeathEvent: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"reason": {"type": "string"}
		}
	}`,
	TypeStatsRequest: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"sections": {"type": "array", "items": {"type": "string"}}
		}
	}`,
}

var (
	schemaOnce     sync.Once
	compiledSchema map[Type]*jsonschema.Schema
	schemaErr      error
)

func compileSchemas() {
	compiledSchema = make(map[Type]*jsonschema.Schema, len(payloadSchemas))
	for t, src := range payloadSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://samsara.schemas.local/events/%s.schema.json", t)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			schemaErr = fmt.Errorf("event: schema load %s: %w", t, err)
			return
		}
		compiled, err := c.Compile(url)
		if err != nil {
			schemaErr = fmt.Errorf("event: schema compile %s: %w", t, err)
			return
		}
		compiledSchema[t] = compiled
	}
}

// validatePayload checks raw against the schema for t.
func validatePayload(t Type, raw map[string]interface{}) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	// jsonschema validates generic values; maps decode as-is.
	if err := compiledSchema[t].Validate(normalize(raw)); err != nil {
		return fmt.Errorf("event: invalid %s payload: %w", t, err)
	}
	return nil
}

// normalize rewrites integer-valued payload fields that arrive as Go ints
// into the float64/json.Number forms the validator expects.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, vv := range x {
			out[k] = normalize(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, vv := range x {
			out[i] = normalize(vv)
		}
		return out
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return v
	}
}
