package store

import (
	"context"
	"sync"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

// MemoryStore is the reference Store implementation, used in tests and
// single-process deployments. All methods copy on the way out.
type MemoryStore struct {
	mu          sync.RWMutex
	identities  map[string]*Identity
	balances    map[string]token.Balances
	seqs        map[string]uint64
	events      map[string]*EventRecord
	byIdentity  map[string][]string // identity -> event ids in commit order
	transitions map[string][]TransitionRecord
	debts       []DebtEntry
	audits      map[string][]AuditRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities:  make(map[string]*Identity),
		balances:    make(map[string]token.Balances),
		seqs:        make(map[string]uint64),
		events:      make(map[string]*EventRecord),
		byIdentity:  make(map[string][]string),
		transitions: make(map[string][]TransitionRecord),
		audits:      make(map[string][]AuditRow),
	}
}

func (s *MemoryStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *MemoryStore) GetBalances(ctx context.Context, id string) (token.Balances, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[id]
	if !ok {
		return token.Balances{}, 0, ErrNotFound
	}
	return b.Clone(), s.seqs[id], nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (*EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) Apply(ctx context.Context, commit *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.events[commit.Event.EventID]; dup {
		return ErrDuplicateEvent
	}

	ident := commit.Identity
	s.identities[ident.ID] = &ident
	s.balances[ident.ID] = commit.Balances.Clone()
	s.seqs[ident.ID] = commit.Event.Seq

	ev := commit.Event
	s.events[ev.EventID] = &ev
	s.byIdentity[ev.IdentityID] = append(s.byIdentity[ev.IdentityID], ev.EventID)

	s.audits[ev.IdentityID] = append(s.audits[ev.IdentityID], commit.AuditRows...)

	if commit.Transition != nil {
		tr := *commit.Transition
		// A death inserts the row; the matching rebirth fills in the
		// successor on the same (identity, from_generation) key.
		trs := s.transitions[tr.IdentityID]
		replaced := false
		for i := range trs {
			if trs[i].FromGeneration == tr.FromGeneration {
				trs[i] = tr
				replaced = true
				break
			}
		}
		if !replaced {
			s.transitions[tr.IdentityID] = append(trs, tr)
		}
	}

	if commit.NewIdentity != nil {
		succ := *commit.NewIdentity
		s.identities[succ.ID] = &succ
		if commit.NewBalances != nil {
			s.balances[succ.ID] = commit.NewBalances.Clone()
		} else {
			s.balances[succ.ID] = token.NewBalances()
		}
	}

	for _, d := range commit.DebtRows {
		s.upsertDebtLocked(d)
	}
	for _, d := range commit.ReopenedDebt {
		s.upsertDebtLocked(d)
	}
	return nil
}

func (s *MemoryStore) upsertDebtLocked(entry DebtEntry) {
	for i, d := range s.debts {
		if d.ID == entry.ID {
			s.debts[i] = entry
			return
		}
	}
	s.debts = append(s.debts, entry)
}

func (s *MemoryStore) History(ctx context.Context, identityID string, limit int) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byIdentity[identityID]
	out := make([]EventRecord, 0, capHint(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *s.events[ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) Transitions(ctx context.Context, identityID string) ([]TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TransitionRecord{}, s.transitions[identityID]...), nil
}

func (s *MemoryStore) Debts(ctx context.Context, debtorID string, includeResolved bool) ([]DebtEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DebtEntry, 0)
	for _, d := range s.debts {
		if d.DebtorID != debtorID {
			continue
		}
		if d.Resolved && !includeResolved {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, identityID string, limit int) ([]AuditRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.audits[identityID]
	out := make([]AuditRow, 0, capHint(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func capHint(limit, n int) int {
	if limit <= 0 || n < limit {
		return n
	}
	return limit
}
