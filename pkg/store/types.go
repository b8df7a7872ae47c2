package store

import (
	"errors"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateEvent is returned when a commit reuses an event_id already
// in the event log. Callers treat it as an idempotent-retry signal.
var ErrDuplicateEvent = errors.New("store: duplicate event")

// LifecycleState of an identity.
type LifecycleState string

const (
	StateAlive    LifecycleState = "alive"
	StateDeceased LifecycleState = "deceased"
)

// Identity is the durable per-identity row.
type Identity struct {
	ID          string         `json:"id"`
	LineageID   string         `json:"lineage_id"`
	Generation  int            `json:"generation"`
	State       LifecycleState `json:"lifecycle_state"`
	SuccessorID string         `json:"successor_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EventRecord is one append-only event-log row, keyed by EventID.
// Replaying a committed EventID is a no-op, which is what makes retry
// safe end to end.
type EventRecord struct {
	EventID        string                 `json:"event_id"`
	IdentityID     string                 `json:"identity_id"`
	Type           string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
	PayloadHash    string                 `json:"payload_hash"`
	Source         string                 `json:"source,omitempty"`
	ReceivedAt     time.Time              `json:"received_at"`
	CommittedAt    time.Time              `json:"committed_at"`
	Seq            uint64                 `json:"seq"` // per-identity commit order
	AppliedDeltas  token.DeltaSet         `json:"applied_deltas,omitempty"`
	Classification map[string]interface{} `json:"classification,omitempty"`
}

// AuditRow records one token mutation within a commit, hash-chained to
// its predecessor for the same identity.
type AuditRow struct {
	IdentityID   string    `json:"identity_id"`
	EventID      string    `json:"event_id"`
	Seq          uint64    `json:"seq"`
	Token        string    `json:"token"`
	Bucket       string    `json:"bucket,omitempty"`
	Counterpart  string    `json:"counterpart,omitempty"`
	Delta        string    `json:"delta"`
	BalanceAfter string    `json:"balance_after"`
	PrevHash     string    `json:"prev_hash"`
	ChainHash    string    `json:"chain_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// TransitionRecord is one Death or Rebirth row, keyed (identity, generation).
type TransitionRecord struct {
	IdentityID           string       `json:"identity_id"`
	FromGeneration       int          `json:"from_generation"`
	ToGeneration         int          `json:"to_generation"`
	Trigger              string       `json:"trigger"` // event_id that caused it
	SanchitaAtTransition token.Amount `json:"sanchita_at_transition"`
	InheritedSanchita    token.Amount `json:"inherited_sanchita"`
	NewIdentityID        string       `json:"new_identity_id,omitempty"`
	Timestamp            time.Time    `json:"timestamp"`
}

// DebtEntry is one Rnanubandhan bond between two identities.
type DebtEntry struct {
	ID         string         `json:"id"`
	CreditorID string         `json:"creditor_id"`
	DebtorID   string         `json:"debtor_id"`
	Severity   token.Severity `json:"severity"`
	Weight     int64          `json:"weight"`
	CreatedAt  time.Time      `json:"created_at"`
	Resolved   bool           `json:"resolved"`
}

// Commit is the atomic unit of durability: the event, the post-mutation
// identity and balances, the per-token audit rows, and any lifecycle
// transition triggered by the same mutation. Either all of it lands or
// none of it does.
type Commit struct {
	Event    EventRecord
	Identity Identity
	Balances token.Balances

	// Rebirth only: the successor identity and its seeded balances.
	NewIdentity  *Identity
	NewBalances  *token.Balances
	ReopenedDebt []DebtEntry

	AuditRows  []AuditRow
	Transition *TransitionRecord
	DebtRows   []DebtEntry
}
