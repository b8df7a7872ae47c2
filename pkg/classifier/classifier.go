// Package classifier maps karmic events to token deltas through a
// (role, action) rule table.
//
// Classification is a pure function of the event payload and the table:
// the same event always yields the same deltas, which is what lets the
// engine replay events idempotently.
package classifier

import (
	"fmt"

	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// UnclassifiedActionError is returned when no rule covers (role, action)
// and no fallback classification is configured.
type UnclassifiedActionError struct {
	Role   string
	Action string
}

func (e *UnclassifiedActionError) Error() string {
	return fmt.Sprintf("classifier: no rule for (role=%q, action=%q)", e.Role, e.Action)
}

// Classification is the outcome of classifying one event.
type Classification struct {
	Deltas      token.DeltaSet `json:"deltas"`
	Fixedness   Fixedness      `json:"fixedness,omitempty"`
	Purushartha Purushartha    `json:"purushartha"`
	Tags        []string       `json:"tags,omitempty"`
	Fallback    bool           `json:"fallback,omitempty"`
}

// ZeroClassification is the do-nothing fallback: no deltas, no scores.
// Applying it still commits the event for the audit trail.
func ZeroClassification(tags ...string) *Classification {
	return &Classification{Deltas: token.DeltaSet{}, Tags: tags, Fallback: true}
}

// Classifier evaluates events against a compiled rule table.
type Classifier struct {
	table    *Table
	fallback *Classification
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFallback configures a default classification applied when no rule
// matches, instead of failing with UnclassifiedActionError.
func WithFallback(c *Classification) Option {
	return func(cl *Classifier) { cl.fallback = c }
}

// New builds a Classifier from an already-compiled rule table.
func New(table *Table, opts ...Option) *Classifier {
	cl := &Classifier{table: table}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewFromFile loads, compiles, and wraps a rule table from YAML.
func NewFromFile(path string, opts ...Option) (*Classifier, error) {
	table, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(table, opts...), nil
}

// NewFromBytes compiles a rule table from YAML bytes.
func NewFromBytes(data []byte, opts ...Option) (*Classifier, error) {
	table, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return New(table, opts...), nil
}

// Classify maps ev to token deltas. Pure: no state is read or written.
func (cl *Classifier) Classify(ev *event.KarmicEvent) (*Classification, error) {
	switch p := ev.Payload.(type) {
	case event.LifeEventPayload:
		return cl.classifyLife(p)
	case event.AtonementPayload:
		return cl.classifyAtonement(p)
	case event.AppealPayload:
		return cl.classifyAppeal(p)
	default:
		return nil, fmt.Errorf("classifier: event type %s is not classifiable", ev.Type)
	}
}

func (cl *Classifier) classifyLife(p event.LifeEventPayload) (*Classification, error) {
	intent := clamp(p.IntentWeight, 0, 2)
	polarity := clamp(p.EnergyPolarity, -1, 1)

	rule, ok := cl.match(p.Role, p.Action, map[string]interface{}{
		"role":            p.Role,
		"action":          p.Action,
		"intent_weight":   intent,
		"energy_polarity": polarity,
		"context":         contextOrEmpty(p.Context),
	})
	if !ok {
		if cl.fallback != nil {
			return cl.fallbackFor(p.Role, p.Action), nil
		}
		return nil, &UnclassifiedActionError{Role: p.Role, Action: p.Action}
	}

	c := rule.classification()
	c.Deltas = rule.deltas.Scale(intent * polarity)
	// A counterpart on the event binds debt deltas to that identity.
	if p.Counterpart != "" {
		c.Deltas = bindCounterpart(c.Deltas, p.Counterpart)
	}
	return c, nil
}

func (cl *Classifier) classifyAtonement(p event.AtonementPayload) (*Classification, error) {
	intent := clamp(p.IntentWeight, 0, 2)

	rule, ok := cl.match("atonement", p.Practice, map[string]interface{}{
		"role":            "atonement",
		"action":          p.Practice,
		"intent_weight":   intent,
		"energy_polarity": 1.0,
		"context":         map[string]interface{}{},
	})
	if !ok {
		if cl.fallback != nil {
			return cl.fallbackFor("atonement", p.Practice), nil
		}
		return nil, &UnclassifiedActionError{Role: "atonement", Action: p.Practice}
	}

	c := rule.classification()
	factor := intent
	if rule.rule.PerUnit {
		factor *= float64(p.UnitsCompleted)
	}
	c.Deltas = rule.deltas.Scale(factor)
	return c, nil
}

// classifyAppeal resolves an appeal through the rule table when a rule
// for ("appeal", reason) exists; otherwise the appeal is recorded with
// zero deltas so the event still lands in the audit trail.
func (cl *Classifier) classifyAppeal(p event.AppealPayload) (*Classification, error) {
	rule, ok := cl.match("appeal", p.Reason, map[string]interface{}{
		"role":            "appeal",
		"action":          p.Reason,
		"intent_weight":   1.0,
		"energy_polarity": 1.0,
		"context":         map[string]interface{}{"target_event_id": p.TargetEventID},
	})
	if !ok {
		return ZeroClassification("appeal_recorded"), nil
	}
	c := rule.classification()
	c.Deltas = append(token.DeltaSet{}, rule.deltas...)
	c.Tags = append(c.Tags, "appeal")
	return c, nil
}

// match looks up the rule for (role, action) and checks its guard.
func (cl *Classifier) match(role, action string, vars map[string]interface{}) (*compiledRule, bool) {
	rule, ok := cl.table.rules[ruleKey{role: role, action: action}]
	if !ok {
		return nil, false
	}
	if rule.guard != nil {
		out, _, err := rule.guard.Eval(vars)
		if err != nil {
			return nil, false
		}
		pass, ok := out.Value().(bool)
		if !ok || !pass {
			return nil, false
		}
	}
	return rule, true
}

func (cl *Classifier) fallbackFor(role, action string) *Classification {
	c := *cl.fallback
	c.Fallback = true
	c.Tags = append(append([]string{}, cl.fallback.Tags...),
		fmt.Sprintf("unclassified:%s/%s", role, action))
	return &c
}

func (r *compiledRule) classification() *Classification {
	return &Classification{
		Fixedness:   r.rule.Fixedness,
		Purushartha: r.rule.Purushartha,
		Tags:        append([]string{}, r.rule.Tags...),
	}
}

func bindCounterpart(ds token.DeltaSet, counterpart string) token.DeltaSet {
	out := make(token.DeltaSet, len(ds))
	for i, d := range ds {
		if token.IsDebt(d.Token) && d.Counterpart == "" {
			d.Counterpart = counterpart
		}
		out[i] = d
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func contextOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// Map renders the classification for persistence alongside the event.
func (c *Classification) Map() map[string]interface{} {
	return map[string]interface{}{
		"fixedness": string(c.Fixedness),
		"purushartha": map[string]interface{}{
			"dharma": c.Purushartha.Dharma,
			"artha":  c.Purushartha.Artha,
			"kama":   c.Purushartha.Kama,
			"moksha": c.Purushartha.Moksha,
		},
		"tags":     c.Tags,
		"fallback": c.Fallback,
	}
}
