// Package feedback aggregates ledger state into a bounded normalized
// score for analytics. It never mutates the ledger.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/bus"
	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

const weightTolerance = 1e-9

// Weights maps token kinds to signed contribution weights. Absolute
// values must sum to 1.0.
type Weights map[token.Kind]float64

// Validate checks tokens are known and |weights| sum to 1.0.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("feedback: no weights configured")
	}
	sum := 0.0
	for kind, weight := range w {
		if !token.IsKnown(kind) {
			return fmt.Errorf("feedback: weight for unknown token %q: %w", kind, token.ErrUnknownToken)
		}
		sum += math.Abs(weight)
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("feedback: absolute weights sum to %v, want 1.0", sum)
	}
	return nil
}

// DefaultWeights favors active karma and demerit counts.
func DefaultWeights() Weights {
	return Weights{
		token.PrarabdhaKarma: 0.35,
		token.DharmaPoints:   0.20,
		token.SevaPoints:     0.10,
		token.SanchitaKarma:  0.15,
		token.PaapTokens:     -0.20,
	}
}

// Component is one token's contribution to the score.
type Component struct {
	Token    token.Kind `json:"token"`
	Raw      float64    `json:"raw"`
	Weighted float64    `json:"weighted"`
}

// Signal is the normalized feedback for one identity.
type Signal struct {
	IdentityID string      `json:"identity_id"`
	Generation int         `json:"generation"`
	Score      float64     `json:"score"`
	Components []Component `json:"components"`
	// WindowEvents is how many recent events fed the momentum term.
	WindowEvents int       `json:"window_events"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Config tunes the normalization.
type Config struct {
	Weights Weights
	// NormalizationScale is the balance magnitude that maps a token's
	// raw value to 1.0 before weighting. Default 100.
	NormalizationScale float64
	// WindowSize is how many recent events contribute momentum. Default 10.
	WindowSize int
	// MomentumWeight scales the rolling-window term. Default 0.25.
	MomentumWeight float64
	// Severity multipliers for bucketed counts.
	SeverityFactors map[token.Severity]float64
}

func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		NormalizationScale: 100,
		WindowSize:         10,
		MomentumWeight:     0.25,
		SeverityFactors: map[token.Severity]float64{
			token.SeverityMinor:  1,
			token.SeverityMedium: 2,
			token.SeverityMajor:  3,
		},
	}
}

// Engine computes feedback signals from the store and publishes
// FeedbackComputed facts.
type Engine struct {
	cfg   Config
	store store.Store
	bus   *bus.Bus
	log   *slog.Logger
	clock func() time.Time
}

func New(cfg Config, st store.Store, b *bus.Bus, log *slog.Logger) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.NormalizationScale <= 0 {
		cfg.NormalizationScale = 100
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:   cfg,
		store: st,
		bus:   b,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

// ComputeSignal reads the identity's balances and recent history and
// produces a score in [-1, 1]. Pure given unchanged ledger state.
func (e *Engine) ComputeSignal(ctx context.Context, identityID string) (*Signal, error) {
	ident, err := e.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	balances, _, err := e.store.GetBalances(ctx, identityID)
	if err != nil {
		return nil, err
	}

	components := make([]Component, 0, len(e.cfg.Weights))
	base := 0.0
	for _, kind := range orderedKinds(e.cfg.Weights) {
		weight := e.cfg.Weights[kind]
		raw := e.rawValue(balances, kind)
		weighted := weight * raw / e.cfg.NormalizationScale
		base += weighted
		components = append(components, Component{Token: kind, Raw: raw, Weighted: weighted})
	}

	momentum, windowEvents, err := e.windowMomentum(ctx, identityID)
	if err != nil {
		return nil, err
	}

	score := clamp(base+e.cfg.MomentumWeight*momentum, -1, 1)
	sig := &Signal{
		IdentityID:   identityID,
		Generation:   ident.Generation,
		Score:        score,
		Components:   components,
		WindowEvents: windowEvents,
		ComputedAt:   e.clock(),
	}

	if e.bus != nil {
		e.bus.Publish(bus.Fact{
			Kind:       bus.FeedbackComputed,
			IdentityID: identityID,
			Generation: ident.Generation,
			Timestamp:  sig.ComputedAt,
			Payload: map[string]interface{}{
				"score":         sig.Score,
				"window_events": sig.WindowEvents,
			},
		})
	}
	return sig, nil
}

// windowMomentum sums the normalized weighted deltas of the most recent
// events, so a burst of recent behavior nudges the score beyond what
// the standing balances say.
func (e *Engine) windowMomentum(ctx context.Context, identityID string) (float64, int, error) {
	history, err := e.store.History(ctx, identityID, e.cfg.WindowSize)
	if err != nil {
		return 0, 0, err
	}
	momentum := 0.0
	for _, rec := range history {
		for kind, weight := range e.cfg.Weights {
			var raw float64
			switch {
			case token.IsScalar(kind):
				raw = rec.AppliedDeltas.Net(kind).Float64()
			case token.IsBucketed(kind):
				for sev, factor := range e.cfg.SeverityFactors {
					raw += factor * float64(rec.AppliedDeltas.NetCount(kind, sev))
				}
			}
			momentum += weight * raw / e.cfg.NormalizationScale
		}
	}
	return momentum, len(history), nil
}

func (e *Engine) rawValue(b token.Balances, kind token.Kind) float64 {
	switch {
	case token.IsScalar(kind):
		return b.Get(kind).Float64()
	case token.IsBucketed(kind):
		total := 0.0
		for sev, factor := range e.cfg.SeverityFactors {
			total += factor * float64(b.Bucket(kind, sev))
		}
		return total
	default:
		return 0
	}
}

// orderedKinds gives components a stable order for deterministic output.
func orderedKinds(w Weights) []token.Kind {
	out := make([]token.Kind, 0, len(w))
	for _, kind := range token.ScalarKinds() {
		if _, ok := w[kind]; ok {
			out = append(out, kind)
		}
	}
	if _, ok := w[token.PaapTokens]; ok {
		out = append(out, token.PaapTokens)
	}
	if _, ok := w[token.Rnanubandhan]; ok {
		out = append(out, token.Rnanubandhan)
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
