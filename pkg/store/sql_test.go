package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

func TestSQLStore_GetIdentity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "lineage_id", "generation", "lifecycle_state", "successor_id", "created_at"}).
		AddRow("arjun_123", "arjun_123", 1, "alive", nil, now)
	mock.ExpectQuery("SELECT id, lineage_id, generation, lifecycle_state, successor_id, created_at FROM identities").
		WithArgs("arjun_123").
		WillReturnRows(rows)

	ident, err := store.GetIdentity(ctx, "arjun_123")
	if err != nil {
		t.Fatal(err)
	}
	if ident.State != StateAlive || ident.Generation != 1 {
		t.Fatalf("unexpected identity: %+v", ident)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLStore_GetIdentityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	mock.ExpectQuery("SELECT id, lineage_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "lineage_id", "generation", "lifecycle_state", "successor_id", "created_at"}))

	_, err = store.GetIdentity(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStore_GetBalances(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)

	mock.ExpectQuery("SELECT last_seq FROM identities").
		WithArgs("arjun_123").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(7))
	mock.ExpectQuery("SELECT token, bucket, amount, count FROM balances").
		WithArgs("arjun_123").
		WillReturnRows(sqlmock.NewRows([]string{"token", "bucket", "amount", "count"}).
			AddRow("dharma_points", "", 2500, 0).
			AddRow("paap_tokens", "minor", 0, 3))

	b, seq, err := store.GetBalances(context.Background(), "arjun_123")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 {
		t.Fatalf("expected seq 7, got %d", seq)
	}
	if b.Get(token.DharmaPoints) != token.FromInt(25) {
		t.Fatalf("expected dharma 25.00, got %s", b.Get(token.DharmaPoints))
	}
	if b.Bucket(token.PaapTokens, token.SeverityMinor) != 3 {
		t.Fatalf("expected 3 minor paap, got %d", b.Bucket(token.PaapTokens, token.SeverityMinor))
	}
}

func TestSQLStore_ApplyDuplicateEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM events").
		WithArgs("evt-dup").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	commit := &Commit{
		Event:    EventRecord{EventID: "evt-dup", IdentityID: "id-1", Type: "life_event", Seq: 2},
		Identity: Identity{ID: "id-1", LineageID: "id-1", Generation: 1, State: StateAlive},
		Balances: token.NewBalances(),
	}
	err = store.Apply(context.Background(), commit)
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLStore_ApplyCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	now := time.Now()

	balances := token.NewBalances()
	balances.Scalars[token.DharmaPoints] = token.FromInt(25)
	commit := &Commit{
		Event: EventRecord{
			EventID: "evt-1", IdentityID: "id-1", Type: "life_event",
			PayloadHash: "sha256:x", ReceivedAt: now, CommittedAt: now, Seq: 1,
		},
		Identity: Identity{ID: "id-1", LineageID: "id-1", Generation: 1, State: StateAlive, CreatedAt: now},
		Balances: balances,
		AuditRows: []AuditRow{
			{IdentityID: "id-1", EventID: "evt-1", Seq: 1, Token: "dharma_points", Delta: "25.00", BalanceAfter: "25.00", ChainHash: "sha256:a", Timestamp: now},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM events").WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO identities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM balances").WithArgs("id-1").WillReturnResult(sqlmock.NewResult(0, 0))
	// one row per scalar kind plus one per paap severity bucket
	for i := 0; i < len(token.ScalarKinds())+len(token.Severities()); i++ {
		mock.ExpectExec("INSERT INTO balances").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec("INSERT INTO audit_rows").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Apply(context.Background(), commit); err != nil {
		t.Fatalf("error was not expected while applying commit: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLStore_AuditRowsKeepIntraEventOrder(t *testing.T) {
	// Rows of one multi-delta event share seq and ts; row_ord is what
	// keeps them in chain order on every backend.
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	now := time.Now()

	commit := &Commit{
		Event: EventRecord{
			EventID: "evt-1", IdentityID: "id-1", Type: "life_event",
			PayloadHash: "sha256:x", ReceivedAt: now, CommittedAt: now, Seq: 1,
		},
		Identity: Identity{ID: "id-1", LineageID: "id-1", Generation: 1, State: StateAlive, CreatedAt: now},
		Balances: token.NewBalances(),
		AuditRows: []AuditRow{
			{IdentityID: "id-1", EventID: "evt-1", Seq: 1, Token: "dharma_points", Delta: "25.00", BalanceAfter: "25.00", ChainHash: "sha256:a", Timestamp: now},
			{IdentityID: "id-1", EventID: "evt-1", Seq: 1, Token: "paap_tokens", Bucket: "minor", Delta: "-1", BalanceAfter: "-1", PrevHash: "sha256:a", ChainHash: "sha256:b", Timestamp: now},
		},
	}

	arg := sqlmock.AnyArg()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM events").WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO identities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM balances").WithArgs("id-1").WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < len(token.ScalarKinds())+len(token.Severities()); i++ {
		mock.ExpectExec("INSERT INTO balances").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec("INSERT INTO audit_rows").
		WithArgs(arg, arg, arg, 0, arg, arg, arg, arg, arg, arg, arg, arg).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_rows").
		WithArgs(arg, arg, arg, 1, arg, arg, arg, arg, arg, arg, arg, arg).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Apply(context.Background(), commit); err != nil {
		t.Fatalf("error was not expected while applying commit: %s", err)
	}

	mock.ExpectQuery(`ORDER BY seq DESC, row_ord DESC`).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "event_id", "seq", "token", "bucket", "counterpart", "delta", "balance_after", "prev_hash", "chain_hash", "ts"}).
			AddRow("id-1", "evt-1", 1, "paap_tokens", "minor", "", "-1", "-1", "sha256:a", "sha256:b", now).
			AddRow("id-1", "evt-1", 1, "dharma_points", "", "", "25.00", "25.00", "", "sha256:a", now))

	trail, err := store.AuditTrail(context.Background(), "id-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 || trail[0].ChainHash != "sha256:b" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLStore_HistoryUsesReplica(t *testing.T) {
	primary, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = primary.Close() }()

	replica, replicaMock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = replica.Close() }()

	store := NewSQLStore(primary, WithReadReplica(replica))
	now := time.Now()

	replicaMock.ExpectQuery("SELECT event_id, identity_id, event_type").
		WithArgs("id-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "identity_id", "event_type", "payload", "payload_hash", "source", "received_at", "committed_at", "seq", "applied_deltas", "classification"}).
			AddRow("evt-2", "id-1", "life_event", `{"role":"x"}`, "sha256:b", "api", now, now, 2, nil, nil).
			AddRow("evt-1", "id-1", "life_event", nil, "sha256:a", "api", now, now, 1, nil, nil))

	hist, err := store.History(context.Background(), "id-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].EventID != "evt-2" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if hist[0].Payload["role"] != "x" {
		t.Fatalf("expected decoded payload, got %+v", hist[0].Payload)
	}
	if err := replicaMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}
