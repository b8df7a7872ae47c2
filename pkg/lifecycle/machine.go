// Package lifecycle implements the Alive/Deceased state machine: death
// threshold evaluation, the deterministic Sanchita inheritance model,
// and rebirth planning against a successor identity.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// NotDeceasedError is returned when rebirth is requested for an
// identity that is still alive.
type NotDeceasedError struct {
	IdentityID string
}

func (e *NotDeceasedError) Error() string {
	return fmt.Sprintf("lifecycle: identity %s is not deceased", e.IdentityID)
}

// AlreadyRebornError is returned when a successor already exists and
// the rebirth request is not a replay of the original trigger.
type AlreadyRebornError struct {
	IdentityID  string
	SuccessorID string
}

func (e *AlreadyRebornError) Error() string {
	return fmt.Sprintf("lifecycle: identity %s already reborn as %s", e.IdentityID, e.SuccessorID)
}

// Config holds the injected lifecycle constants. Thresholds and
// inheritance fractions are never hard-coded at call sites.
type Config struct {
	// DeathThreshold is the PrarabdhaKarma level at or below which an
	// identity dies. Default -100.00.
	DeathThreshold token.Amount

	// PositiveInheritanceNum/Den is the fraction of a non-negative
	// Sanchita balance carried to the successor. Default 1/5.
	PositiveInheritanceNum int64
	PositiveInheritanceDen int64

	// NegativeInheritanceNum/Den is the fraction carried when Sanchita
	// is negative. Default 1/2.
	NegativeInheritanceNum int64
	NegativeInheritanceDen int64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		DeathThreshold:         token.FromInt(-100),
		PositiveInheritanceNum: 1,
		PositiveInheritanceDen: 5,
		NegativeInheritanceNum: 1,
		NegativeInheritanceDen: 2,
	}
}

// Machine plans lifecycle transitions. It is stateless: callers pass
// the current identity row and balances, and persist the returned plan
// atomically with the triggering mutation.
type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) *Machine {
	if cfg.PositiveInheritanceDen == 0 {
		cfg.PositiveInheritanceDen = 1
	}
	if cfg.NegativeInheritanceDen == 0 {
		cfg.NegativeInheritanceDen = 1
	}
	return &Machine{cfg: cfg}
}

// CrossedThreshold reports whether the balances put the identity at or
// below the death threshold.
func (m *Machine) CrossedThreshold(b token.Balances) bool {
	return b.Get(token.PrarabdhaKarma) <= m.cfg.DeathThreshold
}

// InheritedSanchita computes the amount a successor inherits. Positive
// balances carry a smaller fraction than negative ones, rounded
// half-away-from-zero in exact integer arithmetic.
func (m *Machine) InheritedSanchita(sanchita token.Amount) token.Amount {
	if sanchita >= 0 {
		return sanchita.ScaleRat(m.cfg.PositiveInheritanceNum, m.cfg.PositiveInheritanceDen)
	}
	return sanchita.ScaleRat(m.cfg.NegativeInheritanceNum, m.cfg.NegativeInheritanceDen)
}

// PlanDeath marks the identity Deceased and builds the transition row
// recording the Sanchita snapshot and what a successor will inherit.
// The successor itself is allocated later, at rebirth.
func (m *Machine) PlanDeath(ident *store.Identity, balances token.Balances, triggerEventID string, now time.Time) *store.TransitionRecord {
	sanchita := balances.Get(token.SanchitaKarma)
	ident.State = store.StateDeceased
	return &store.TransitionRecord{
		IdentityID:           ident.ID,
		FromGeneration:       ident.Generation,
		ToGeneration:         ident.Generation + 1,
		Trigger:              triggerEventID,
		SanchitaAtTransition: sanchita,
		InheritedSanchita:    m.InheritedSanchita(sanchita),
		Timestamp:            now,
	}
}

// SuccessorID derives the deterministic identity id for the next
// generation of a lineage.
func SuccessorID(lineageID string, generation int) string {
	return fmt.Sprintf("%s:g%d", lineageID, generation)
}

// RebirthPlan is everything a rebirth commit needs beyond the trigger
// event itself.
type RebirthPlan struct {
	Successor    store.Identity
	SeedBalances token.Balances
	ReopenedDebt []store.DebtEntry
	Transition   store.TransitionRecord
}

// PlanRebirth validates the rebirth preconditions and builds the
// successor identity, its seeded balances, and the reopened debts.
// Replaying the trigger that already produced the successor is a no-op
// handled upstream via the event log; any other request against an
// identity with a successor fails with AlreadyRebornError.
func (m *Machine) PlanRebirth(ctx context.Context, st store.Store, ident *store.Identity, triggerEventID string, now time.Time) (*RebirthPlan, error) {
	if ident.State != store.StateDeceased {
		return nil, &NotDeceasedError{IdentityID: ident.ID}
	}
	if ident.SuccessorID != "" {
		return nil, &AlreadyRebornError{IdentityID: ident.ID, SuccessorID: ident.SuccessorID}
	}

	balances, _, err := st.GetBalances(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("load balances for rebirth of %s: %w", ident.ID, err)
	}

	inherited := m.InheritedSanchita(balances.Get(token.SanchitaKarma))
	transition := store.TransitionRecord{
		IdentityID:           ident.ID,
		FromGeneration:       ident.Generation,
		ToGeneration:         ident.Generation + 1,
		Trigger:              triggerEventID,
		SanchitaAtTransition: balances.Get(token.SanchitaKarma),
		InheritedSanchita:    inherited,
		Timestamp:            now,
	}
	// Keep the death trigger and timestamps if a death transition was
	// already recorded for this generation.
	if prior, err := st.Transitions(ctx, ident.ID); err == nil {
		for _, tr := range prior {
			if tr.FromGeneration == ident.Generation {
				transition = tr
				break
			}
		}
	}

	successorID := SuccessorID(ident.LineageID, ident.Generation+1)
	transition.NewIdentityID = successorID
	transition.Timestamp = now

	seed := token.NewBalances()
	seed.Scalars[token.SanchitaKarma] = transition.InheritedSanchita

	successor := store.Identity{
		ID:         successorID,
		LineageID:  ident.LineageID,
		Generation: ident.Generation + 1,
		State:      store.StateAlive,
		CreatedAt:  now,
	}

	debts, err := st.Debts(ctx, ident.ID, false)
	if err != nil {
		return nil, fmt.Errorf("load open debts for rebirth of %s: %w", ident.ID, err)
	}
	reopened := make([]store.DebtEntry, 0, len(debts))
	for _, d := range debts {
		d.DebtorID = successorID
		reopened = append(reopened, d)
	}

	ident.SuccessorID = successorID
	return &RebirthPlan{
		Successor:    successor,
		SeedBalances: seed,
		ReopenedDebt: reopened,
		Transition:   transition,
	}, nil
}
