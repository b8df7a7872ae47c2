package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	// All record paths must be safe no-ops.
	ctx := context.Background()
	p.RecordEvent(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, time.Millisecond)
	p.RecordTransition(ctx)
	p.RecordFallback(ctx)
	p.RecordEviction(ctx)

	ctx, done := p.TrackOperation(ctx, "commit")
	done(nil)
	_ = ctx

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "samsara-core" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 || !cfg.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestEventAttributes(t *testing.T) {
	attrs := EventAttributes("id-1", "evt-1", "life_event", "gateway")
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != AttrIdentityID || attrs[0].Value.AsString() != "id-1" {
		t.Fatalf("unexpected first attribute: %v", attrs[0])
	}
}

func TestSLOTrackerCompliance(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-commit",
		Operation:   OpCommit,
		LatencyP99:  100 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 24,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{
			Operation: OpCommit,
			Latency:   10 * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Hour),
		})
	}

	status, err := tracker.Status(OpCommit)
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatalf("expected compliance, got %+v", status)
	}
	if status.CurrentSuccess != 1.0 || status.ObservationCount != 100 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSLOTrackerBurnRate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-commit",
		Operation:   OpCommit,
		LatencyP99:  100 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 24,
	})

	// 5% failures burns the budget five times over.
	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{
			Operation: OpCommit,
			Latency:   10 * time.Millisecond,
			Success:   i >= 5,
			Timestamp: now.Add(-time.Hour),
		})
	}

	status, err := tracker.Status(OpCommit)
	if err != nil {
		t.Fatal(err)
	}
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
	if status.BurnRate < 4.9 || status.BurnRate > 5.1 {
		t.Fatalf("expected burn rate ~5, got %f", status.BurnRate)
	}
	if status.ErrorBudgetLeft != 0 {
		t.Fatalf("expected budget exhausted, got %f", status.ErrorBudgetLeft)
	}
}

func TestSLOTrackerWindowExcludesOld(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-ingest",
		Operation:   OpIngest,
		LatencyP99:  50 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{
		Operation: OpIngest,
		Latency:   time.Second,
		Success:   false,
		Timestamp: now.Add(-2 * time.Hour),
	})

	status, err := tracker.Status(OpIngest)
	if err != nil {
		t.Fatal(err)
	}
	if status.ObservationCount != 0 || !status.InCompliance {
		t.Fatalf("stale observations leaked into window: %+v", status)
	}
}

func TestSLOTrackerUnknownOperation(t *testing.T) {
	tracker := NewSLOTracker()
	if _, err := tracker.Status("teleport"); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestDefaultTargetsCoverPipeline(t *testing.T) {
	ops := map[string]bool{}
	for _, target := range DefaultTargets() {
		ops[target.Operation] = true
	}
	for _, op := range []string{OpIngest, OpClassify, OpCommit, OpRebirth, OpStatsRead} {
		if !ops[op] {
			t.Fatalf("no default SLO for %s", op)
		}
	}
}
