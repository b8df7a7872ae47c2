package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db      *sql.DB
	replica *sql.DB // optional read replica for history and audit reads
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithReadReplica routes History, Transitions, Debts and AuditTrail
// through a separate connection. Writes always go to the primary.
func WithReadReplica(db *sql.DB) SQLOption {
	return func(s *SQLStore) { s.replica = db }
}

func NewSQLStore(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	lineage_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	lifecycle_state TEXT NOT NULL,
	successor_id TEXT,
	last_seq BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	identity_id TEXT NOT NULL,
	token TEXT NOT NULL,
	bucket TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL DEFAULT 0,
	count BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (identity_id, token, bucket)
);

CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT,
	payload_hash TEXT NOT NULL,
	source TEXT,
	received_at TIMESTAMP NOT NULL,
	committed_at TIMESTAMP NOT NULL,
	seq BIGINT NOT NULL,
	applied_deltas TEXT,
	classification TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_identity_seq ON events (identity_id, seq);

CREATE TABLE IF NOT EXISTS audit_rows (
	identity_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	row_ord BIGINT NOT NULL DEFAULT 0,
	token TEXT NOT NULL,
	bucket TEXT NOT NULL DEFAULT '',
	counterpart TEXT NOT NULL DEFAULT '',
	delta TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	chain_hash TEXT NOT NULL,
	ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_identity_seq ON audit_rows (identity_id, seq);

CREATE TABLE IF NOT EXISTS transitions (
	identity_id TEXT NOT NULL,
	from_generation INTEGER NOT NULL,
	to_generation INTEGER NOT NULL,
	trigger_event TEXT NOT NULL,
	sanchita_at_transition BIGINT NOT NULL,
	inherited_sanchita BIGINT NOT NULL,
	new_identity_id TEXT,
	ts TIMESTAMP NOT NULL,
	PRIMARY KEY (identity_id, from_generation)
);

CREATE TABLE IF NOT EXISTS debts (
	id TEXT PRIMARY KEY,
	creditor_id TEXT NOT NULL,
	debtor_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	weight BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_debts_debtor ON debts (debtor_id);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) reader() *sql.DB {
	if s.replica != nil {
		return s.replica
	}
	return s.db
}

func (s *SQLStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	query := `SELECT id, lineage_id, generation, lifecycle_state, successor_id, created_at FROM identities WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)

	var ident Identity
	var successor sql.NullString
	err := row.Scan(&ident.ID, &ident.LineageID, &ident.Generation, &ident.State, &successor, &ident.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ident.SuccessorID = successor.String
	return &ident, nil
}

func (s *SQLStore) GetBalances(ctx context.Context, id string) (token.Balances, uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT last_seq FROM identities WHERE id = $1`, id).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Balances{}, 0, ErrNotFound
		}
		return token.Balances{}, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT token, bucket, amount, count FROM balances WHERE identity_id = $1`, id)
	if err != nil {
		return token.Balances{}, 0, err
	}
	defer func() { _ = rows.Close() }()

	b := token.NewBalances()
	for rows.Next() {
		var kind, bucket string
		var amount, count int64
		if err := rows.Scan(&kind, &bucket, &amount, &count); err != nil {
			return token.Balances{}, 0, err
		}
		k := token.Kind(kind)
		if bucket == "" {
			b.Scalars[k] = token.Amount(amount)
		} else {
			if b.Buckets[k] == nil {
				b.Buckets[k] = make(map[token.Severity]int64)
			}
			b.Buckets[k][token.Severity(bucket)] = count
		}
	}
	if err := rows.Err(); err != nil {
		return token.Balances{}, 0, err
	}
	return b, seq, nil
}

func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (*EventRecord, error) {
	query := `SELECT event_id, identity_id, event_type, payload, payload_hash, source, received_at, committed_at, seq, applied_deltas, classification FROM events WHERE event_id = $1`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

// Apply lands the whole commit in one transaction. A duplicate event_id
// rolls everything back and surfaces as ErrDuplicateEvent.
func (s *SQLStore) Apply(ctx context.Context, commit *Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = $1`, commit.Event.EventID).Scan(&exists)
	if err == nil {
		return ErrDuplicateEvent
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := insertEvent(ctx, tx, &commit.Event); err != nil {
		return err
	}
	if err := upsertIdentity(ctx, tx, &commit.Identity, commit.Event.Seq); err != nil {
		return err
	}
	if err := writeBalances(ctx, tx, commit.Identity.ID, commit.Balances); err != nil {
		return err
	}
	// row_ord fixes the relative order of one event's rows; seq and ts
	// are shared across them.
	for i := range commit.AuditRows {
		if err := insertAuditRow(ctx, tx, &commit.AuditRows[i], i); err != nil {
			return err
		}
	}
	if commit.Transition != nil {
		if err := insertTransition(ctx, tx, commit.Transition); err != nil {
			return err
		}
	}
	if commit.NewIdentity != nil {
		if err := upsertIdentity(ctx, tx, commit.NewIdentity, 0); err != nil {
			return err
		}
		nb := token.NewBalances()
		if commit.NewBalances != nil {
			nb = *commit.NewBalances
		}
		if err := writeBalances(ctx, tx, commit.NewIdentity.ID, nb); err != nil {
			return err
		}
	}
	for _, d := range commit.DebtRows {
		if err := upsertDebt(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, d := range commit.ReopenedDebt {
		if err := upsertDebt(ctx, tx, d); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *EventRecord) error {
	payload, err := marshalJSON(ev.Payload)
	if err != nil {
		return err
	}
	deltas, err := marshalJSON(ev.AppliedDeltas)
	if err != nil {
		return err
	}
	classification, err := marshalJSON(ev.Classification)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO events (event_id, identity_id, event_type, payload, payload_hash, source, received_at, committed_at, seq, applied_deltas, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, query,
		ev.EventID, ev.IdentityID, ev.Type, payload, ev.PayloadHash, ev.Source,
		ev.ReceivedAt, ev.CommittedAt, ev.Seq, deltas, classification,
	)
	return err
}

func upsertIdentity(ctx context.Context, tx *sql.Tx, ident *Identity, lastSeq uint64) error {
	query := `
		INSERT INTO identities (id, lineage_id, generation, lifecycle_state, successor_id, last_seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			lifecycle_state = EXCLUDED.lifecycle_state,
			successor_id = EXCLUDED.successor_id,
			last_seq = EXCLUDED.last_seq
	`
	_, err := tx.ExecContext(ctx, query,
		ident.ID, ident.LineageID, ident.Generation, ident.State,
		nullString(ident.SuccessorID), lastSeq, ident.CreatedAt,
	)
	return err
}

func writeBalances(ctx context.Context, tx *sql.Tx, identityID string, b token.Balances) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM balances WHERE identity_id = $1`, identityID); err != nil {
		return err
	}
	query := `INSERT INTO balances (identity_id, token, bucket, amount, count) VALUES ($1, $2, $3, $4, $5)`
	for kind, amount := range b.Scalars {
		if _, err := tx.ExecContext(ctx, query, identityID, string(kind), "", int64(amount), 0); err != nil {
			return err
		}
	}
	for kind, buckets := range b.Buckets {
		for sev, count := range buckets {
			if _, err := tx.ExecContext(ctx, query, identityID, string(kind), string(sev), 0, count); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertAuditRow(ctx context.Context, tx *sql.Tx, row *AuditRow, ord int) error {
	query := `
		INSERT INTO audit_rows (identity_id, event_id, seq, row_ord, token, bucket, counterpart, delta, balance_after, prev_hash, chain_hash, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := tx.ExecContext(ctx, query,
		row.IdentityID, row.EventID, row.Seq, ord, row.Token, row.Bucket, row.Counterpart,
		row.Delta, row.BalanceAfter, row.PrevHash, row.ChainHash, row.Timestamp,
	)
	return err
}

func insertTransition(ctx context.Context, tx *sql.Tx, tr *TransitionRecord) error {
	query := `
		INSERT INTO transitions (identity_id, from_generation, to_generation, trigger_event, sanchita_at_transition, inherited_sanchita, new_identity_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity_id, from_generation) DO UPDATE SET
			new_identity_id = EXCLUDED.new_identity_id,
			ts = EXCLUDED.ts
	`
	_, err := tx.ExecContext(ctx, query,
		tr.IdentityID, tr.FromGeneration, tr.ToGeneration, tr.Trigger,
		int64(tr.SanchitaAtTransition), int64(tr.InheritedSanchita),
		nullString(tr.NewIdentityID), tr.Timestamp,
	)
	return err
}

func upsertDebt(ctx context.Context, tx *sql.Tx, d DebtEntry) error {
	query := `
		INSERT INTO debts (id, creditor_id, debtor_id, severity, weight, created_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			debtor_id = EXCLUDED.debtor_id,
			weight = EXCLUDED.weight,
			resolved = EXCLUDED.resolved
	`
	_, err := tx.ExecContext(ctx, query,
		d.ID, d.CreditorID, d.DebtorID, string(d.Severity), d.Weight, d.CreatedAt, d.Resolved,
	)
	return err
}

func (s *SQLStore) History(ctx context.Context, identityID string, limit int) ([]EventRecord, error) {
	query := `SELECT event_id, identity_id, event_type, payload, payload_hash, source, received_at, committed_at, seq, applied_deltas, classification FROM events WHERE identity_id = $1 ORDER BY seq DESC`
	args := []any{identityID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]EventRecord, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) Transitions(ctx context.Context, identityID string) ([]TransitionRecord, error) {
	query := `SELECT identity_id, from_generation, to_generation, trigger_event, sanchita_at_transition, inherited_sanchita, new_identity_id, ts FROM transitions WHERE identity_id = $1 ORDER BY from_generation ASC`
	rows, err := s.reader().QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]TransitionRecord, 0)
	for rows.Next() {
		var tr TransitionRecord
		var newID sql.NullString
		var sanchita, inherited int64
		if err := rows.Scan(&tr.IdentityID, &tr.FromGeneration, &tr.ToGeneration, &tr.Trigger, &sanchita, &inherited, &newID, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.SanchitaAtTransition = token.Amount(sanchita)
		tr.InheritedSanchita = token.Amount(inherited)
		tr.NewIdentityID = newID.String
		result = append(result, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) Debts(ctx context.Context, debtorID string, includeResolved bool) ([]DebtEntry, error) {
	query := `SELECT id, creditor_id, debtor_id, severity, weight, created_at, resolved FROM debts WHERE debtor_id = $1`
	if !includeResolved {
		query += ` AND resolved = FALSE`
	}
	rows, err := s.reader().QueryContext(ctx, query, debtorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]DebtEntry, 0)
	for rows.Next() {
		var d DebtEntry
		var sev string
		if err := rows.Scan(&d.ID, &d.CreditorID, &d.DebtorID, &sev, &d.Weight, &d.CreatedAt, &d.Resolved); err != nil {
			return nil, err
		}
		d.Severity = token.Severity(sev)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) AuditTrail(ctx context.Context, identityID string, limit int) ([]AuditRow, error) {
	query := `SELECT identity_id, event_id, seq, token, bucket, counterpart, delta, balance_after, prev_hash, chain_hash, ts FROM audit_rows WHERE identity_id = $1 ORDER BY seq DESC, row_ord DESC`
	args := []any{identityID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]AuditRow, 0)
	for rows.Next() {
		var row AuditRow
		if err := rows.Scan(&row.IdentityID, &row.EventID, &row.Seq, &row.Token, &row.Bucket, &row.Counterpart, &row.Delta, &row.BalanceAfter, &row.PrevHash, &row.ChainHash, &row.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*EventRecord, error) {
	var ev EventRecord
	var payload, deltas, classification sql.NullString
	var source sql.NullString
	err := row.Scan(&ev.EventID, &ev.IdentityID, &ev.Type, &payload, &ev.PayloadHash, &source, &ev.ReceivedAt, &ev.CommittedAt, &ev.Seq, &deltas, &classification)
	if err != nil {
		return nil, err
	}
	ev.Source = source.String
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
	}
	if deltas.Valid && deltas.String != "" {
		if err := json.Unmarshal([]byte(deltas.String), &ev.AppliedDeltas); err != nil {
			return nil, fmt.Errorf("decode applied deltas: %w", err)
		}
	}
	if classification.Valid && classification.String != "" {
		if err := json.Unmarshal([]byte(classification.String), &ev.Classification); err != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
	}
	return &ev, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
