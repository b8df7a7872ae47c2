package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

func seed(t *testing.T, st *store.MemoryStore, prarabdha int64, drift token.DeltaSet) {
	t.Helper()
	b := token.NewBalances()
	b.Scalars[token.PrarabdhaKarma] = token.FromInt(prarabdha)
	commit := &store.Commit{
		Event: store.EventRecord{
			EventID: "evt-1", IdentityID: "id-1", Type: "life_event", Seq: 1,
			ReceivedAt: time.Now().UTC(), CommittedAt: time.Now().UTC(),
			AppliedDeltas: drift,
		},
		Identity: store.Identity{ID: "id-1", LineageID: "id-1", Generation: 1, State: store.StateAlive},
		Balances: b,
	}
	if err := st.Apply(context.Background(), commit); err != nil {
		t.Fatal(err)
	}
}

func TestRuleOracleTrajectory(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, -20, token.DeltaSet{{Token: token.PrarabdhaKarma, Amount: token.FromInt(-20)}})

	o := NewRuleOracle(st, token.FromInt(-100), 10)
	rec, err := o.Predict(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Trajectory != TrajectoryDescending {
		t.Fatalf("expected descending, got %s", rec.Trajectory)
	}
	if rec.DeathRisk <= 0 || rec.DeathRisk >= 1 {
		t.Fatalf("expected partial risk, got %v", rec.DeathRisk)
	}
}

func TestRuleOracleAtThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, -100, nil)

	o := NewRuleOracle(st, token.FromInt(-100), 10)
	rec, err := o.Predict(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.DeathRisk != 1 {
		t.Fatalf("expected risk 1 at threshold, got %v", rec.DeathRisk)
	}
	if len(rec.Practices) == 0 {
		t.Fatal("high risk should recommend practices")
	}
}

func TestRuleOracleStable(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, 5, token.DeltaSet{{Token: token.DharmaPoints, Amount: token.FromInt(10)}})

	o := NewRuleOracle(st, token.FromInt(-100), 10)
	rec, err := o.Predict(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Trajectory != TrajectoryStable {
		t.Fatalf("expected stable, got %s", rec.Trajectory)
	}
	if rec.DeathRisk != 0 {
		t.Fatalf("positive prarabdha should carry zero risk, got %v", rec.DeathRisk)
	}
}

func TestStaticOracle(t *testing.T) {
	o := &StaticOracle{Recommendation: Recommendation{Trajectory: TrajectoryAscending}}
	rec, err := o.Predict(context.Background(), "id-9")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IdentityID != "id-9" || rec.Trajectory != TrajectoryAscending {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}
