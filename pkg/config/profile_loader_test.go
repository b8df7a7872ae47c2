package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

func writeProfile(t *testing.T, dir, code, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const strictProfile = `
schema_version: "1.0.0"
name: Strict
code: strict
lifecycle:
  death_threshold: "-50.00"
  negative_inheritance_num: 3
  negative_inheritance_den: 4
feedback:
  weights:
    prarabdha_karma: 0.5
    paap_tokens: -0.5
  window_size: 20
limiter:
  events_per_second: 10
  burst: 20
bus:
  replay_size: 1024
  replay_window: 5m
  watermark: 100
engine:
  classify_timeout: 50ms
`

func TestLoadProfileStrict(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "strict", strictProfile)

	p, err := LoadProfile(dir, "strict")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Strict" || p.Code != "strict" {
		t.Fatalf("unexpected profile header: %+v", p)
	}

	lc, err := p.LifecycleConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.DeathThreshold != token.FromInt(-50) {
		t.Fatalf("expected threshold -50.00, got %s", lc.DeathThreshold)
	}
	if lc.NegativeInheritanceNum != 3 || lc.NegativeInheritanceDen != 4 {
		t.Fatalf("negative inheritance not applied: %+v", lc)
	}
	// Unset positive inheritance keeps the default fifth.
	if lc.PositiveInheritanceNum != 1 || lc.PositiveInheritanceDen != 5 {
		t.Fatalf("positive inheritance default lost: %+v", lc)
	}

	fb, err := p.FeedbackConfig()
	if err != nil {
		t.Fatal(err)
	}
	if fb.Weights[token.PrarabdhaKarma] != 0.5 || fb.Weights[token.PaapTokens] != -0.5 {
		t.Fatalf("weights not applied: %+v", fb.Weights)
	}
	if fb.WindowSize != 20 {
		t.Fatalf("expected window 20, got %d", fb.WindowSize)
	}
	// Unset momentum keeps default.
	if fb.MomentumWeight != 0.25 {
		t.Fatalf("momentum default lost: %f", fb.MomentumWeight)
	}

	bc := p.BusConfig()
	if bc.ReplaySize != 1024 || bc.ReplayWindow != 5*time.Minute || bc.Watermark != 100 {
		t.Fatalf("bus section not applied: %+v", bc)
	}
	if p.Engine.ClassifyTimeout.Std() != 50*time.Millisecond {
		t.Fatalf("classify timeout not applied: %v", p.Engine.ClassifyTimeout)
	}
	if p.Limiter.EventsPerSecond != 10 || p.Limiter.Burst != 20 {
		t.Fatalf("limiter section not applied: %+v", p.Limiter)
	}
}

func TestLoadProfileRejectsBadSchema(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "future", strings.Replace(strictProfile, `"1.0.0"`, `"2.0.0"`, 1))

	if _, err := LoadProfile(dir, "future"); err == nil {
		t.Fatal("expected schema version rejection")
	}

	writeProfile(t, dir, "none", strings.Replace(strictProfile, `schema_version: "1.0.0"`, "", 1))
	if _, err := LoadProfile(dir, "none"); err == nil {
		t.Fatal("expected missing schema_version rejection")
	}
}

func TestLoadProfileRejectsUnknownWeightToken(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad", `
schema_version: "1.0.0"
feedback:
  weights:
    chakra_points: 1.0
`)

	p, err := LoadProfile(dir, "bad")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.FeedbackConfig(); err == nil {
		t.Fatal("expected unknown token rejection")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "strict", strictProfile)
	writeProfile(t, dir, "lenient", `
schema_version: "1.0.0"
name: Lenient
lifecycle:
  death_threshold: "-500.00"
`)

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	// Code falls back to the filename when unset in the YAML.
	if profiles["lenient"] == nil || profiles["lenient"].Name != "Lenient" {
		t.Fatalf("lenient profile missing: %+v", profiles)
	}
}

func TestEmptyProfileKeepsDefaults(t *testing.T) {
	p := &EngineProfile{SchemaVersion: "1.0.0", Code: "default"}

	lc, err := p.LifecycleConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.DeathThreshold != token.FromInt(-100) {
		t.Fatalf("expected default threshold, got %s", lc.DeathThreshold)
	}

	fb, err := p.FeedbackConfig()
	if err != nil {
		t.Fatal(err)
	}
	if fb.Weights[token.PrarabdhaKarma] != 0.35 {
		t.Fatalf("expected default weights, got %+v", fb.Weights)
	}
}
