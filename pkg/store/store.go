// Package store defines the durable Ledger Store interface and its
// in-memory and SQL implementations.
//
// The store is the only shared mutable resource in the engine: one
// ledger row per identity, an append-only event log keyed by event_id,
// one transition row per Death/Rebirth, and the Rnanubandhan debt
// ledger. Writes for a given identity only ever come from its owning
// worker; reads may be served from a replica.
package store

import (
	"context"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

// Store is the durable repository behind the Token Ledger.
type Store interface {
	// GetIdentity retrieves an identity row. ErrNotFound when absent.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// GetBalances retrieves current balances and the latest per-identity
	// commit sequence. ErrNotFound when the identity does not exist.
	GetBalances(ctx context.Context, id string) (token.Balances, uint64, error)

	// GetEvent retrieves a committed event by event_id. ErrNotFound when
	// the event has never been committed; used for idempotent retry.
	GetEvent(ctx context.Context, eventID string) (*EventRecord, error)

	// Apply commits the whole unit atomically. ErrDuplicateEvent when the
	// event_id is already in the log; no partial effect in any case.
	Apply(ctx context.Context, commit *Commit) error

	// History returns up to limit committed events for an identity,
	// newest first. May be served from a replica.
	History(ctx context.Context, identityID string, limit int) ([]EventRecord, error)

	// Transitions returns the lifecycle transition rows for an identity,
	// oldest first.
	Transitions(ctx context.Context, identityID string) ([]TransitionRecord, error)

	// Debts returns Rnanubandhan entries where the identity is the
	// debtor. Resolved entries are included only when includeResolved.
	Debts(ctx context.Context, debtorID string, includeResolved bool) ([]DebtEntry, error)

	// AuditTrail returns up to limit audit rows for an identity, newest
	// first.
	AuditTrail(ctx context.Context, identityID string, limit int) ([]AuditRow, error)
}
