// Package ledger applies classified token deltas to identity balances.
// Every mutation commits atomically with its triggering event, its
// hash-chained audit rows, and any lifecycle transition it caused.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/canonicalize"
	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// IdentityDeceasedError rejects a mutation against a Deceased identity.
type IdentityDeceasedError struct {
	IdentityID  string
	SuccessorID string
}

func (e *IdentityDeceasedError) Error() string {
	if e.SuccessorID != "" {
		return fmt.Sprintf("ledger: identity %s is deceased (successor %s)", e.IdentityID, e.SuccessorID)
	}
	return fmt.Sprintf("ledger: identity %s is deceased", e.IdentityID)
}

// Snapshot is the fully-applied state returned to callers: either the
// whole event landed, or they got an error and none of it did.
type Snapshot struct {
	IdentityID string               `json:"identity_id"`
	LineageID  string               `json:"lineage_id"`
	Generation int                  `json:"generation"`
	State      store.LifecycleState `json:"lifecycle_state"`
	Seq        uint64               `json:"seq"`
	Balances   token.Balances       `json:"balances"`

	// Died is set when this application crossed the death threshold.
	Died       bool                    `json:"died,omitempty"`
	Transition *store.TransitionRecord `json:"transition,omitempty"`

	// Reborn is set when this application produced a successor.
	Reborn      bool   `json:"reborn,omitempty"`
	SuccessorID string `json:"successor_id,omitempty"`

	// Replayed marks an idempotent no-op retry of a committed event.
	Replayed bool `json:"replayed,omitempty"`
}

// TokenLedger validates and applies DeltaSets against the store.
type TokenLedger struct {
	store   store.Store
	machine *lifecycle.Machine
	log     *slog.Logger
	clock   func() time.Time
}

func New(st store.Store, machine *lifecycle.Machine, log *slog.Logger) *TokenLedger {
	if log == nil {
		log = slog.Default()
	}
	return &TokenLedger{
		store:   st,
		machine: machine,
		log:     log,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the commit timestamp source, for tests.
func (l *TokenLedger) WithClock(clock func() time.Time) *TokenLedger {
	l.clock = clock
	return l
}

// Apply validates the classified deltas, applies them to the identity's
// balances, evaluates the death threshold, and commits everything as
// one unit. Replaying a committed event_id returns the current snapshot
// with Replayed set instead of double-applying.
func (l *TokenLedger) Apply(ctx context.Context, ev *event.KarmicEvent, deltas token.DeltaSet) (*Snapshot, error) {
	if err := deltas.Validate(); err != nil {
		return nil, err
	}

	now := l.clock()
	ident, created, err := l.loadOrCreateIdentity(ctx, ev.IdentityID, now)
	if err != nil {
		return nil, err
	}
	if ident.State == store.StateDeceased {
		// The event that crossed the death threshold is itself part of
		// the deceased identity's log; retrying it must stay idempotent
		// rather than surface the state guard.
		if prior, lookupErr := l.store.GetEvent(ctx, ev.EventID); lookupErr == nil && prior.IdentityID == ident.ID {
			return l.replaySnapshot(ctx, ev)
		}
		return nil, &IdentityDeceasedError{IdentityID: ident.ID, SuccessorID: ident.SuccessorID}
	}

	balances := token.NewBalances()
	var seq uint64
	if !created {
		balances, seq, err = l.store.GetBalances(ctx, ident.ID)
		if err != nil {
			return nil, fmt.Errorf("load balances for %s: %w", ident.ID, err)
		}
	}

	next, err := balances.Apply(deltas)
	if err != nil {
		return nil, err
	}
	seq++

	record := store.EventRecord{
		EventID:        ev.EventID,
		IdentityID:     ev.IdentityID,
		Type:           string(ev.Type),
		Payload:        ev.RawPayload,
		PayloadHash:    ev.PayloadHash,
		Source:         ev.Source,
		ReceivedAt:     ev.ReceivedAt,
		CommittedAt:    now,
		Seq:            seq,
		AppliedDeltas:  deltas,
		Classification: ev.Classification,
	}

	auditRows, err := l.buildAuditRows(ctx, ident.ID, ev.EventID, seq, deltas, next, now)
	if err != nil {
		return nil, err
	}

	commit := &store.Commit{
		Event:     record,
		Identity:  *ident,
		Balances:  next,
		AuditRows: auditRows,
		DebtRows:  debtRows(ev, deltas, now),
	}

	died := false
	if deltas.Touches(token.PrarabdhaKarma) && l.machine.CrossedThreshold(next) {
		commit.Transition = l.machine.PlanDeath(ident, next, ev.EventID, now)
		commit.Identity = *ident
		died = true
	}

	if err := l.store.Apply(ctx, commit); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return l.replaySnapshot(ctx, ev)
		}
		return nil, fmt.Errorf("commit event %s: %w", ev.EventID, err)
	}

	if died {
		l.log.InfoContext(ctx, "death threshold crossed",
			"identity_id", ident.ID,
			"generation", ident.Generation,
			"trigger", ev.EventID,
			"prarabdha", next.Get(token.PrarabdhaKarma).String(),
		)
	}

	return &Snapshot{
		IdentityID: ident.ID,
		LineageID:  ident.LineageID,
		Generation: ident.Generation,
		State:      ident.State,
		Seq:        seq,
		Balances:   next,
		Died:       died,
		Transition: commit.Transition,
	}, nil
}

// Rebirth commits a successor identity for a deceased one. The trigger
// event lands in the deceased identity's log, so replaying the same
// trigger is an idempotent no-op returning the existing successor.
func (l *TokenLedger) Rebirth(ctx context.Context, ev *event.KarmicEvent) (*Snapshot, error) {
	ident, err := l.store.GetIdentity(ctx, ev.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("rebirth of identity %s: %w", ev.IdentityID, err)
	}

	now := l.clock()
	plan, err := l.machine.PlanRebirth(ctx, l.store, ident, ev.EventID, now)
	if err != nil {
		var already *lifecycle.AlreadyRebornError
		if errors.As(err, &already) {
			// A replay of the trigger that produced the successor is
			// the retry path, not a conflict.
			if prior, lookupErr := l.store.GetEvent(ctx, ev.EventID); lookupErr == nil && prior.IdentityID == ev.IdentityID {
				return l.replayRebirth(ctx, already.SuccessorID)
			}
		}
		return nil, err
	}

	balances, seq, err := l.store.GetBalances(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("load balances for %s: %w", ident.ID, err)
	}
	seq++

	transition := plan.Transition
	commit := &store.Commit{
		Event: store.EventRecord{
			EventID:     ev.EventID,
			IdentityID:  ev.IdentityID,
			Type:        string(ev.Type),
			Payload:     ev.RawPayload,
			PayloadHash: ev.PayloadHash,
			Source:      ev.Source,
			ReceivedAt:  ev.ReceivedAt,
			CommittedAt: now,
			Seq:         seq,
		},
		Identity:     *ident,
		Balances:     balances,
		NewIdentity:  &plan.Successor,
		NewBalances:  &plan.SeedBalances,
		ReopenedDebt: plan.ReopenedDebt,
		Transition:   &transition,
	}

	if err := l.store.Apply(ctx, commit); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return l.replayRebirth(ctx, plan.Successor.ID)
		}
		return nil, fmt.Errorf("commit rebirth %s: %w", ev.EventID, err)
	}

	l.log.InfoContext(ctx, "rebirth processed",
		"identity_id", ident.ID,
		"successor_id", plan.Successor.ID,
		"generation", plan.Successor.Generation,
		"inherited_sanchita", plan.Transition.InheritedSanchita.String(),
	)

	return &Snapshot{
		IdentityID:  plan.Successor.ID,
		LineageID:   plan.Successor.LineageID,
		Generation:  plan.Successor.Generation,
		State:       plan.Successor.State,
		Balances:    plan.SeedBalances,
		Reborn:      true,
		SuccessorID: plan.Successor.ID,
		Transition:  &transition,
	}, nil
}

// Snapshot reads the current state of an identity without mutating it.
func (l *TokenLedger) Snapshot(ctx context.Context, identityID string) (*Snapshot, error) {
	ident, err := l.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	balances, seq, err := l.store.GetBalances(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		IdentityID:  ident.ID,
		LineageID:   ident.LineageID,
		Generation:  ident.Generation,
		State:       ident.State,
		Seq:         seq,
		Balances:    balances,
		SuccessorID: ident.SuccessorID,
	}, nil
}

// History returns the identity's committed events, newest first.
func (l *TokenLedger) History(ctx context.Context, identityID string, limit int) ([]store.EventRecord, error) {
	return l.store.History(ctx, identityID, limit)
}

// Transitions returns the identity's lifecycle transitions, oldest first.
func (l *TokenLedger) Transitions(ctx context.Context, identityID string) ([]store.TransitionRecord, error) {
	return l.store.Transitions(ctx, identityID)
}

// Debts returns the identity's open Rnanubandhan entries.
func (l *TokenLedger) Debts(ctx context.Context, identityID string) ([]store.DebtEntry, error) {
	return l.store.Debts(ctx, identityID, false)
}

func (l *TokenLedger) loadOrCreateIdentity(ctx context.Context, id string, now time.Time) (*store.Identity, bool, error) {
	ident, err := l.store.GetIdentity(ctx, id)
	if err == nil {
		return ident, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("load identity %s: %w", id, err)
	}
	// First event for this identity creates generation 1 with baseline
	// balances in the same commit as the mutation.
	return &store.Identity{
		ID:         id,
		LineageID:  id,
		Generation: 1,
		State:      store.StateAlive,
		CreatedAt:  now,
	}, true, nil
}

// buildAuditRows emits one row per delta, chained to the identity's
// previous audit head so tampering is detectable.
func (l *TokenLedger) buildAuditRows(ctx context.Context, identityID, eventID string, seq uint64, deltas token.DeltaSet, after token.Balances, now time.Time) ([]store.AuditRow, error) {
	prevHash := ""
	if head, err := l.store.AuditTrail(ctx, identityID, 1); err == nil && len(head) > 0 {
		prevHash = head[0].ChainHash
	}

	rows := make([]store.AuditRow, 0, len(deltas))
	for _, d := range deltas {
		row := store.AuditRow{
			IdentityID:  identityID,
			EventID:     eventID,
			Seq:         seq,
			Token:       string(d.Token),
			Counterpart: d.Counterpart,
			PrevHash:    prevHash,
			Timestamp:   now,
		}
		switch {
		case token.IsScalar(d.Token):
			row.Delta = d.Amount.String()
			row.BalanceAfter = after.Get(d.Token).String()
		case token.IsBucketed(d.Token):
			row.Bucket = string(d.Bucket)
			row.Delta = fmt.Sprintf("%d", d.Count)
			row.BalanceAfter = fmt.Sprintf("%d", after.Bucket(d.Token, d.Bucket))
		default: // debt entry, balance tracked in the debt ledger
			row.Bucket = string(d.Bucket)
			row.Delta = fmt.Sprintf("%d", d.Count)
		}

		hash, err := canonicalize.CanonicalHash(auditRowDigest(row))
		if err != nil {
			return nil, fmt.Errorf("hash audit row: %w", err)
		}
		row.ChainHash = hash
		prevHash = hash
		rows = append(rows, row)
	}
	return rows, nil
}

// debtRows turns Rnanubandhan deltas into counterpart-keyed debt
// entries. The debt id is derived from the event so replay upserts the
// same row instead of growing a duplicate.
func debtRows(ev *event.KarmicEvent, deltas token.DeltaSet, now time.Time) []store.DebtEntry {
	var rows []store.DebtEntry
	for i, d := range deltas {
		if !token.IsDebt(d.Token) {
			continue
		}
		rows = append(rows, store.DebtEntry{
			ID:         fmt.Sprintf("%s:%d", ev.EventID, i),
			CreditorID: d.Counterpart,
			DebtorID:   ev.IdentityID,
			Severity:   d.Bucket,
			Weight:     d.Count,
			CreatedAt:  now,
		})
	}
	return rows
}

func (l *TokenLedger) replaySnapshot(ctx context.Context, ev *event.KarmicEvent) (*Snapshot, error) {
	prior, err := l.store.GetEvent(ctx, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("load replayed event %s: %w", ev.EventID, err)
	}
	snap, err := l.Snapshot(ctx, prior.IdentityID)
	if err != nil {
		return nil, err
	}
	snap.Replayed = true
	l.log.DebugContext(ctx, "idempotent replay", "event_id", ev.EventID, "identity_id", prior.IdentityID)
	return snap, nil
}

func (l *TokenLedger) replayRebirth(ctx context.Context, successorID string) (*Snapshot, error) {
	snap, err := l.Snapshot(ctx, successorID)
	if err != nil {
		return nil, err
	}
	snap.Reborn = true
	snap.Replayed = true
	return snap, nil
}
