// Package oracle predicts likely karmic trajectory for an identity.
// Implementations are advisory: predictions never feed back into the
// ledger, only into analytics surfaces.
package oracle

import (
	"context"
	"fmt"

	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// Trajectory is the predicted direction of an identity's active karma.
type Trajectory string

const (
	TrajectoryAscending  Trajectory = "ascending"
	TrajectoryStable     Trajectory = "stable"
	TrajectoryDescending Trajectory = "descending"
)

// Recommendation is one predicted outcome plus suggested practices.
type Recommendation struct {
	IdentityID string     `json:"identity_id"`
	Trajectory Trajectory `json:"trajectory"`
	// DeathRisk estimates how close the identity is to the threshold,
	// 0 (safe) to 1 (at or past it).
	DeathRisk float64  `json:"death_risk"`
	Practices []string `json:"practices,omitempty"`
}

// ScoringOracle predicts from current ledger state.
type ScoringOracle interface {
	Predict(ctx context.Context, identityID string) (*Recommendation, error)
}

// RuleOracle is a deterministic baseline: trajectory from the recent
// window's net PrarabdhaKarma movement, risk from distance to the
// threshold.
type RuleOracle struct {
	store      store.Store
	threshold  token.Amount
	windowSize int
}

func NewRuleOracle(st store.Store, threshold token.Amount, windowSize int) *RuleOracle {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &RuleOracle{store: st, threshold: threshold, windowSize: windowSize}
}

func (o *RuleOracle) Predict(ctx context.Context, identityID string) (*Recommendation, error) {
	balances, _, err := o.store.GetBalances(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("oracle: load balances for %s: %w", identityID, err)
	}
	history, err := o.store.History(ctx, identityID, o.windowSize)
	if err != nil {
		return nil, err
	}

	var drift token.Amount
	for _, rec := range history {
		drift += rec.AppliedDeltas.Net(token.PrarabdhaKarma)
	}

	rec := &Recommendation{IdentityID: identityID, Trajectory: TrajectoryStable}
	switch {
	case drift > 0:
		rec.Trajectory = TrajectoryAscending
	case drift < 0:
		rec.Trajectory = TrajectoryDescending
	}

	prarabdha := balances.Get(token.PrarabdhaKarma)
	if prarabdha <= o.threshold {
		rec.DeathRisk = 1
	} else if o.threshold < 0 {
		// Linear between 0 (neutral karma) and 1 (at the threshold).
		rec.DeathRisk = clamp01(prarabdha.Float64() / o.threshold.Float64())
	}

	if rec.DeathRisk > 0.5 {
		rec.Practices = append(rec.Practices, "daan", "seva")
	}
	if balances.Bucket(token.PaapTokens, token.SeverityMajor) > 0 {
		rec.Practices = append(rec.Practices, "prayashchitta")
	}
	return rec, nil
}

// StaticOracle returns a fixed recommendation, for tests and wiring
// before a real model is attached.
type StaticOracle struct {
	Recommendation Recommendation
}

func (o *StaticOracle) Predict(ctx context.Context, identityID string) (*Recommendation, error) {
	rec := o.Recommendation
	rec.IdentityID = identityID
	return &rec, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
