package feedback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/bus"
	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

func seedIdentity(t *testing.T, st *store.MemoryStore, id string, mutate func(*token.Balances)) {
	t.Helper()
	b := token.NewBalances()
	if mutate != nil {
		mutate(&b)
	}
	commit := &store.Commit{
		Event: store.EventRecord{
			EventID: "evt-" + id, IdentityID: id, Type: "life_event", Seq: 1,
			ReceivedAt: time.Now().UTC(), CommittedAt: time.Now().UTC(),
			AppliedDeltas: token.DeltaSet{{Token: token.DharmaPoints, Amount: token.FromInt(10)}},
		},
		Identity: store.Identity{ID: id, LineageID: id, Generation: 1, State: store.StateAlive, CreatedAt: time.Now().UTC()},
		Balances: b,
	}
	if err := st.Apply(context.Background(), commit); err != nil {
		t.Fatal(err)
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights must validate: %v", err)
	}

	bad := Weights{token.DharmaPoints: 0.5, token.PaapTokens: -0.6}
	if err := bad.Validate(); err == nil {
		t.Fatal("abs sum 1.1 must be rejected")
	}

	unknown := Weights{"chakra_points": 1.0}
	if err := unknown.Validate(); !errors.Is(err, token.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}

	if err := (Weights{}).Validate(); err == nil {
		t.Fatal("empty weights must be rejected")
	}
}

func TestComputeSignalBounded(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st, "id-1", func(b *token.Balances) {
		b.Scalars[token.DharmaPoints] = token.FromInt(1000000)
		b.Scalars[token.PrarabdhaKarma] = token.FromInt(1000000)
	})

	e, err := New(DefaultConfig(), st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := e.ComputeSignal(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Score != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", sig.Score)
	}

	seedIdentity(t, st, "id-2", func(b *token.Balances) {
		b.Scalars[token.PrarabdhaKarma] = token.FromInt(-1000000)
	})
	sig, err = e.ComputeSignal(context.Background(), "id-2")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Score != -1.0 {
		t.Fatalf("expected clamp to -1.0, got %v", sig.Score)
	}
}

func TestComputeSignalComponents(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st, "id-1", func(b *token.Balances) {
		b.Scalars[token.DharmaPoints] = token.FromInt(50)
		b.Buckets[token.PaapTokens][token.SeverityMajor] = 2
	})

	cfg := DefaultConfig()
	cfg.MomentumWeight = 0 // isolate the balance term
	e, err := New(cfg, st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := e.ComputeSignal(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}

	var dharma, paap *Component
	for i := range sig.Components {
		switch sig.Components[i].Token {
		case token.DharmaPoints:
			dharma = &sig.Components[i]
		case token.PaapTokens:
			paap = &sig.Components[i]
		}
	}
	if dharma == nil || paap == nil {
		t.Fatalf("missing components: %+v", sig.Components)
	}
	// dharma: 0.20 * 50/100 = 0.10
	if math.Abs(dharma.Weighted-0.10) > 1e-9 {
		t.Fatalf("dharma component = %v, want 0.10", dharma.Weighted)
	}
	// paap: -0.20 * (3*2)/100 = -0.012
	if math.Abs(paap.Weighted-(-0.012)) > 1e-9 {
		t.Fatalf("paap component = %v, want -0.012", paap.Weighted)
	}
}

func TestComputeSignalIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st, "id-1", func(b *token.Balances) {
		b.Scalars[token.SevaPoints] = token.FromInt(30)
	})

	e, err := New(DefaultConfig(), st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := e.ComputeSignal(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		sig, err := e.ComputeSignal(context.Background(), "id-1")
		if err != nil {
			t.Fatal(err)
		}
		if sig.Score != first.Score {
			t.Fatalf("signal not idempotent: %v vs %v", sig.Score, first.Score)
		}
	}
}

func TestComputeSignalPublishesFact(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st, "id-1", nil)

	b := bus.New(bus.Config{}, nil)
	sub := b.Subscribe(bus.Filter{Kinds: []bus.FactKind{bus.FeedbackComputed}})
	defer sub.Close()

	e, err := New(DefaultConfig(), st, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := e.ComputeSignal(context.Background(), "id-1")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case fact := <-sub.C:
		if fact.IdentityID != "id-1" {
			t.Fatalf("unexpected fact: %+v", fact)
		}
		if fact.Payload["score"] != sig.Score {
			t.Fatalf("fact score %v != signal score %v", fact.Payload["score"], sig.Score)
		}
	case <-time.After(time.Second):
		t.Fatal("no FeedbackComputed fact published")
	}
}

func TestComputeSignalUnknownIdentity(t *testing.T) {
	st := store.NewMemoryStore()
	e, err := New(DefaultConfig(), st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ComputeSignal(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
