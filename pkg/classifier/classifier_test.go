package classifier

import (
	"errors"
	"testing"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

const testRules = `
schema_version: "1.2.0"
rules:
  - role: householder
    action: feed_stranger
    fixedness: adridha
    purushartha: {dharma: 0.8, artha: 0.1, kama: 0.0, moksha: 0.1}
    deltas:
      - token: dharma_points
        amount: "25.00"
      - token: paap_tokens
        bucket: minor
        count: -1
  - role: merchant
    action: cheat_customer
    fixedness: dridha
    guard: 'intent_weight >= 0.5'
    purushartha: {dharma: -0.9, artha: 0.6, kama: 0.0, moksha: -0.2}
    deltas:
      - token: paap_tokens
        bucket: medium
        count: 2
      - token: prarabdha_karma
        amount: "-10.00"
      - token: rnanubandhan
        bucket: medium
        count: 1
  - role: atonement
    action: daan
    per_unit: true
    deltas:
      - token: punya_tokens
        amount: "7.00"
  - role: appeal
    action: misclassified_action
    deltas:
      - token: paap_tokens
        bucket: minor
        count: -1
`

func mustClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	cl, err := NewFromBytes([]byte(testRules), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return cl
}

func lifeEvent(t *testing.T, payload map[string]interface{}) *event.KarmicEvent {
	t.Helper()
	ev, err := event.FromInbound(event.Inbound{
		Type:       event.TypeLifeEvent,
		IdentityID: "arjun_123",
		Payload:    payload,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestClassifyLifeEventBaseValues(t *testing.T) {
	cl := mustClassifier(t)
	c, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "feed_stranger",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Deltas.Net(token.DharmaPoints); got != token.FromInt(25) {
		t.Errorf("dharma delta = %s", got)
	}
	if got := c.Deltas.NetCount(token.PaapTokens, token.SeverityMinor); got != -1 {
		t.Errorf("paap minor = %d", got)
	}
	if c.Fixedness != Adridha {
		t.Errorf("fixedness = %s", c.Fixedness)
	}
	if c.Purushartha.Dharma != 0.8 {
		t.Errorf("purushartha = %+v", c.Purushartha)
	}
}

func TestClassifyScalesByIntentAndPolarity(t *testing.T) {
	cl := mustClassifier(t)
	c, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "feed_stranger",
		"intent_weight": 2.0, "energy_polarity": 0.5,
	}))
	if err != nil {
		t.Fatal(err)
	}
	// 25.00 * 2.0 * 0.5 = 25.00
	if got := c.Deltas.Net(token.DharmaPoints); got != token.FromInt(25) {
		t.Errorf("dharma delta = %s", got)
	}
}

func TestClassifyClampsIntentWeight(t *testing.T) {
	cl := mustClassifier(t)
	c, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "feed_stranger",
		"intent_weight": 50.0,
	}))
	if err != nil {
		t.Fatal(err)
	}
	// Clamped to 2.0: 25.00 * 2.0 = 50.00
	if got := c.Deltas.Net(token.DharmaPoints); got != token.FromInt(50) {
		t.Errorf("dharma delta = %s", got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	cl := mustClassifier(t)
	ev := lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "feed_stranger", "intent_weight": 1.3,
	})
	c1, err := cl.Classify(ev)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := cl.Classify(ev)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Deltas.Net(token.DharmaPoints) != c2.Deltas.Net(token.DharmaPoints) {
		t.Error("classification not deterministic")
	}
}

func TestGuardBlocksLowIntent(t *testing.T) {
	cl := mustClassifier(t)
	_, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "merchant", "action": "cheat_customer", "intent_weight": 0.1,
	}))
	var ue *UnclassifiedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnclassifiedActionError, got %v", err)
	}
}

func TestCounterpartBindsDebtDelta(t *testing.T) {
	cl := mustClassifier(t)
	c, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "merchant", "action": "cheat_customer", "counterpart": "bhima_9",
	}))
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, d := range c.Deltas {
		if token.IsDebt(d.Token) {
			found = true
			if d.Counterpart != "bhima_9" {
				t.Errorf("counterpart = %s", d.Counterpart)
			}
		}
	}
	if !found {
		t.Fatal("expected a debt delta")
	}
}

func TestUnknownActionFailsWithoutFallback(t *testing.T) {
	cl := mustClassifier(t)
	_, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "moonwalk",
	}))
	var ue *UnclassifiedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnclassifiedActionError, got %v", err)
	}
	if ue.Action != "moonwalk" {
		t.Errorf("action = %s", ue.Action)
	}
}

func TestFallbackClassification(t *testing.T) {
	cl := mustClassifier(t, WithFallback(ZeroClassification()))
	c, err := cl.Classify(lifeEvent(t, map[string]interface{}{
		"role": "householder", "action": "moonwalk",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Fallback {
		t.Error("expected fallback marker")
	}
	if len(c.Deltas) != 0 {
		t.Errorf("fallback should carry zero deltas, got %v", c.Deltas)
	}
}

func TestClassifyAtonementPerUnit(t *testing.T) {
	cl := mustClassifier(t)
	ev, err := event.FromInbound(event.Inbound{
		Type:       event.TypeAtonement,
		IdentityID: "arjun_123",
		Payload:    map[string]interface{}{"practice": "daan", "units_completed": 5},
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	c, err := cl.Classify(ev)
	if err != nil {
		t.Fatal(err)
	}
	// 7.00 per unit * 5 units = 35.00
	if got := c.Deltas.Net(token.PunyaTokens); got != token.FromInt(35) {
		t.Errorf("punya delta = %s", got)
	}
}

func TestClassifyAppealWithoutRule(t *testing.T) {
	cl := mustClassifier(t)
	ev, err := event.FromInbound(event.Inbound{
		Type:       event.TypeAppeal,
		IdentityID: "arjun_123",
		Payload: map[string]interface{}{
			"target_event_id": "evt-1", "reason": "wrong_severity",
		},
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	c, err := cl.Classify(ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Deltas) != 0 || !c.Fallback {
		t.Errorf("expected zero-delta recorded appeal, got %+v", c)
	}
}

func TestRuleTableSchemaVersionGate(t *testing.T) {
	_, err := ParseRules([]byte("schema_version: \"3.0.0\"\nrules: []\n"))
	if err == nil {
		t.Fatal("expected schema version rejection")
	}
	_, err = ParseRules([]byte("rules: []\n"))
	if err == nil {
		t.Fatal("expected missing schema version rejection")
	}
}

func TestRuleTableAcceptsUnboundDebtDelta(t *testing.T) {
	// Debt counterparts are bound per event, so the table form carries
	// none; loading must not require one.
	table := `
schema_version: "1.0.0"
rules:
  - role: merchant
    action: cheat_customer
    deltas:
      - token: rnanubandhan
        bucket: medium
        count: 1
`
	tbl, err := ParseRules([]byte(table))
	if err != nil {
		t.Fatalf("unbound debt delta must load: %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", tbl.Len())
	}

	// A debt delta with a bad severity is still a table error.
	bad := `
schema_version: "1.0.0"
rules:
  - role: merchant
    action: cheat_customer
    deltas:
      - token: rnanubandhan
        bucket: catastrophic
        count: 1
`
	if _, err := ParseRules([]byte(bad)); err == nil {
		t.Fatal("expected severity rejection")
	}
}

func TestShippedRuleTableLoads(t *testing.T) {
	tbl, err := LoadRules("../../configs/rules.yaml")
	if err != nil {
		t.Fatalf("shipped rule table must load: %v", err)
	}
	if tbl.Len() == 0 {
		t.Fatal("shipped rule table is empty")
	}
}

func TestRuleTableRejectsUnknownToken(t *testing.T) {
	bad := `
schema_version: "1.0.0"
rules:
  - role: r
    action: a
    deltas:
      - token: gold_coins
        amount: "1.00"
`
	if _, err := ParseRules([]byte(bad)); err == nil {
		t.Fatal("expected unknown token rejection")
	}
}
