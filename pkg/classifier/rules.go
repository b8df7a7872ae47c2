package classifier

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

// rulesSchemaConstraint gates which rule-table schema versions this build
// can load. Bumped when the YAML shape changes incompatibly.
const rulesSchemaConstraint = ">= 1.0.0, < 2.0.0"

// Fixedness classifies a karmic consequence as fixed or flexible.
type Fixedness string

const (
	Dridha  Fixedness = "dridha"
	Adridha Fixedness = "adridha"
)

// Purushartha scores an action on the four evaluation axes.
type Purushartha struct {
	Dharma float64 `yaml:"dharma" json:"dharma"`
	Artha  float64 `yaml:"artha" json:"artha"`
	Kama   float64 `yaml:"kama" json:"kama"`
	Moksha float64 `yaml:"moksha" json:"moksha"`
}

// DeltaSpec is the YAML form of one token delta in a rule.
type DeltaSpec struct {
	Token       string `yaml:"token"`
	Amount      string `yaml:"amount,omitempty"`
	Bucket      string `yaml:"bucket,omitempty"`
	Count       int64  `yaml:"count,omitempty"`
	Counterpart string `yaml:"counterpart,omitempty"`
}

// Rule maps one (role, action) pair to base token deltas and scores.
// PerUnit rules (atonement practices) multiply deltas by units completed.
// Guard is an optional CEL predicate; a rule whose guard evaluates false
// does not match.
type Rule struct {
	Role        string      `yaml:"role"`
	Action      string      `yaml:"action"`
	Fixedness   Fixedness   `yaml:"fixedness,omitempty"`
	PerUnit     bool        `yaml:"per_unit,omitempty"`
	Guard       string      `yaml:"guard,omitempty"`
	Purushartha Purushartha `yaml:"purushartha,omitempty"`
	Deltas      []DeltaSpec `yaml:"deltas"`
	Tags        []string    `yaml:"tags,omitempty"`
}

// RuleTable is the on-disk rule document.
type RuleTable struct {
	SchemaVersion string `yaml:"schema_version"`
	Rules         []Rule `yaml:"rules"`
}

// ruleKey identifies a rule in the table.
type ruleKey struct {
	role   string
	action string
}

// compiledRule is a rule with parsed deltas and a compiled guard program.
type compiledRule struct {
	rule   Rule
	deltas token.DeltaSet
	guard  cel.Program // nil when no guard
}

// Table is a compiled rule table ready for classification.
type Table struct {
	rules map[ruleKey]*compiledRule
}

// Len returns the number of compiled rules.
func (t *Table) Len() int { return len(t.rules) }

// LoadRules reads and compiles a rule table from a YAML file.
func LoadRules(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: load rules %q: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules parses and compiles a YAML rule table.
func ParseRules(data []byte) (*Table, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("classifier: parse rules: %w", err)
	}
	if err := checkSchemaVersion(table.SchemaVersion); err != nil {
		return nil, err
	}

	env, err := guardEnv()
	if err != nil {
		return nil, err
	}

	compiled := make(map[ruleKey]*compiledRule, len(table.Rules))
	for i, r := range table.Rules {
		if r.Role == "" || r.Action == "" {
			return nil, fmt.Errorf("classifier: rule %d missing role or action", i)
		}
		key := ruleKey{role: r.Role, action: r.Action}
		if _, dup := compiled[key]; dup {
			return nil, fmt.Errorf("classifier: duplicate rule for (%s, %s)", r.Role, r.Action)
		}

		ds, err := parseDeltas(r.Deltas)
		if err != nil {
			return nil, fmt.Errorf("classifier: rule (%s, %s): %w", r.Role, r.Action, err)
		}

		cr := &compiledRule{rule: r, deltas: ds}
		if r.Guard != "" {
			prg, err := compileGuard(env, r.Guard)
			if err != nil {
				return nil, fmt.Errorf("classifier: rule (%s, %s) guard: %w", r.Role, r.Action, err)
			}
			cr.guard = prg
		}
		compiled[key] = cr
	}
	return &Table{rules: compiled}, nil
}

func checkSchemaVersion(v string) error {
	if v == "" {
		return fmt.Errorf("classifier: rule table missing schema_version")
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("classifier: bad schema_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(rulesSchemaConstraint)
	if err != nil {
		return fmt.Errorf("classifier: bad schema constraint: %w", err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("classifier: rule schema_version %s outside supported range %s", v, rulesSchemaConstraint)
	}
	return nil
}

func parseDeltas(specs []DeltaSpec) (token.DeltaSet, error) {
	ds := make(token.DeltaSet, 0, len(specs))
	for _, spec := range specs {
		kind, err := token.ParseKind(spec.Token)
		if err != nil {
			return nil, err
		}
		d := token.Delta{
			Token:       kind,
			Bucket:      token.Severity(spec.Bucket),
			Count:       spec.Count,
			Counterpart: spec.Counterpart,
		}
		if spec.Amount != "" {
			amt, err := token.ParseAmount(spec.Amount)
			if err != nil {
				return nil, err
			}
			d.Amount = amt
		}
		if err := d.ValidateTemplate(); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

// guardEnv builds the CEL environment guard expressions evaluate in.
func guardEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("role", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("intent_weight", cel.DoubleType),
		cel.Variable("energy_polarity", cel.DoubleType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("classifier: cel env: %w", err)
	}
	return env, nil
}

func compileGuard(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard must evaluate to bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}
