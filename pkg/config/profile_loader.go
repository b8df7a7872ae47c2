package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/samsara-labs/samsara/core/pkg/bus"
	"github.com/samsara-labs/samsara/core/pkg/feedback"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// profileSchemaConstraint gates which profile schema versions this
// build can load. Bumped when the YAML shape changes incompatibly.
const profileSchemaConstraint = ">= 1.0.0, < 2.0.0"

// Duration decodes "200ms"/"5m" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// EngineProfile is a named tuning profile for the karmic pipeline.
// A profile only ever overrides; absent sections keep package defaults.
type EngineProfile struct {
	SchemaVersion string           `yaml:"schema_version" json:"schema_version"`
	Name          string           `yaml:"name" json:"name"`
	Code          string           `yaml:"code" json:"code"`
	Lifecycle     LifecycleSection `yaml:"lifecycle" json:"lifecycle"`
	Feedback      FeedbackSection  `yaml:"feedback" json:"feedback"`
	Limiter       LimiterSection   `yaml:"limiter" json:"limiter"`
	Bus           BusSection       `yaml:"bus" json:"bus"`
	Engine        EngineSection    `yaml:"engine" json:"engine"`
}

// LifecycleSection tunes death and inheritance.
type LifecycleSection struct {
	DeathThreshold         string `yaml:"death_threshold,omitempty" json:"death_threshold,omitempty"`
	PositiveInheritanceNum int64  `yaml:"positive_inheritance_num,omitempty" json:"positive_inheritance_num,omitempty"`
	PositiveInheritanceDen int64  `yaml:"positive_inheritance_den,omitempty" json:"positive_inheritance_den,omitempty"`
	NegativeInheritanceNum int64  `yaml:"negative_inheritance_num,omitempty" json:"negative_inheritance_num,omitempty"`
	NegativeInheritanceDen int64  `yaml:"negative_inheritance_den,omitempty" json:"negative_inheritance_den,omitempty"`
}

// FeedbackSection tunes the normalized scoring signal.
type FeedbackSection struct {
	Weights            map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	NormalizationScale float64            `yaml:"normalization_scale,omitempty" json:"normalization_scale,omitempty"`
	WindowSize         int                `yaml:"window_size,omitempty" json:"window_size,omitempty"`
	MomentumWeight     float64            `yaml:"momentum_weight,omitempty" json:"momentum_weight,omitempty"`
}

// LimiterSection tunes per-source ingestion limiting.
type LimiterSection struct {
	EventsPerSecond float64 `yaml:"events_per_second,omitempty" json:"events_per_second,omitempty"`
	Burst           int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// BusSection tunes fact distribution.
type BusSection struct {
	ReplaySize   int      `yaml:"replay_size,omitempty" json:"replay_size,omitempty"`
	ReplayWindow Duration `yaml:"replay_window,omitempty" json:"replay_window,omitempty"`
	Watermark    int      `yaml:"watermark,omitempty" json:"watermark,omitempty"`
}

// EngineSection tunes the pipeline itself.
type EngineSection struct {
	ClassifyTimeout Duration `yaml:"classify_timeout,omitempty" json:"classify_timeout,omitempty"`
	QueueSize       int      `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
}

// LoadProfile loads an engine profile YAML by code. It looks for
// profile_<code>.yaml in the profiles directory.
func LoadProfile(profilesDir, code string) (*EngineProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}
	profile, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*EngineProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*EngineProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		profile, err := parseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = profile
	}
	return profiles, nil
}

func parseProfile(data []byte) (*EngineProfile, error) {
	var profile EngineProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	if err := checkSchemaVersion(profile.SchemaVersion); err != nil {
		return nil, err
	}
	return &profile, nil
}

func checkSchemaVersion(v string) error {
	if v == "" {
		return fmt.Errorf("profile missing schema_version")
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("bad schema_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(profileSchemaConstraint)
	if err != nil {
		return fmt.Errorf("bad schema constraint: %w", err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("schema_version %s outside supported range %s", v, profileSchemaConstraint)
	}
	return nil
}

// LifecycleConfig converts the profile into lifecycle tuning, falling
// back to defaults for anything unset.
func (p *EngineProfile) LifecycleConfig() (lifecycle.Config, error) {
	cfg := lifecycle.DefaultConfig()
	s := p.Lifecycle
	if s.DeathThreshold != "" {
		amt, err := token.ParseAmount(s.DeathThreshold)
		if err != nil {
			return cfg, fmt.Errorf("profile %s: death_threshold: %w", p.Code, err)
		}
		cfg.DeathThreshold = amt
	}
	if s.PositiveInheritanceDen != 0 {
		cfg.PositiveInheritanceNum = s.PositiveInheritanceNum
		cfg.PositiveInheritanceDen = s.PositiveInheritanceDen
	}
	if s.NegativeInheritanceDen != 0 {
		cfg.NegativeInheritanceNum = s.NegativeInheritanceNum
		cfg.NegativeInheritanceDen = s.NegativeInheritanceDen
	}
	return cfg, nil
}

// FeedbackConfig converts the profile into feedback tuning.
func (p *EngineProfile) FeedbackConfig() (feedback.Config, error) {
	cfg := feedback.DefaultConfig()
	s := p.Feedback
	if len(s.Weights) > 0 {
		weights := make(feedback.Weights, len(s.Weights))
		for name, w := range s.Weights {
			kind, err := token.ParseKind(name)
			if err != nil {
				return cfg, fmt.Errorf("profile %s: feedback weight: %w", p.Code, err)
			}
			weights[kind] = w
		}
		if err := weights.Validate(); err != nil {
			return cfg, fmt.Errorf("profile %s: %w", p.Code, err)
		}
		cfg.Weights = weights
	}
	if s.NormalizationScale > 0 {
		cfg.NormalizationScale = s.NormalizationScale
	}
	if s.WindowSize > 0 {
		cfg.WindowSize = s.WindowSize
	}
	if s.MomentumWeight > 0 {
		cfg.MomentumWeight = s.MomentumWeight
	}
	return cfg, nil
}

// BusConfig converts the profile into bus tuning.
func (p *EngineProfile) BusConfig() bus.Config {
	return bus.Config{
		ReplaySize:   p.Bus.ReplaySize,
		ReplayWindow: p.Bus.ReplayWindow.Std(),
		Watermark:    p.Bus.Watermark,
	}
}
