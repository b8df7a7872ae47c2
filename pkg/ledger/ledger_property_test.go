//go:build property
// +build property

// Package ledger_test contains property-based tests for ledger
// additivity, replay idempotence, and inheritance determinism.
package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/ledger"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

func lifeEvent(eventID, identityID string) *event.KarmicEvent {
	return &event.KarmicEvent{
		EventID:    eventID,
		IdentityID: identityID,
		Type:       event.TypeLifeEvent,
		ReceivedAt: time.Now().UTC(),
	}
}

// Property: net effect of a sequence of scalar deltas equals the sum of
// the deltas, regardless of how the sequence is chunked into events.
func TestLedgerAdditivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("scalar balances are additive", prop.ForAll(
		func(amounts []int64) bool {
			st := store.NewMemoryStore()
			machine := lifecycle.NewMachine(lifecycle.Config{
				DeathThreshold:         token.FromInt(-1 << 40), // keep the identity alive
				PositiveInheritanceNum: 1, PositiveInheritanceDen: 5,
				NegativeInheritanceNum: 1, NegativeInheritanceDen: 2,
			})
			l := ledger.New(st, machine, nil)
			ctx := context.Background()

			var sum int64
			for i, n := range amounts {
				deltas := token.DeltaSet{{Token: token.DharmaPoints, Amount: token.Amount(n)}}
				if _, err := l.Apply(ctx, lifeEvent(fmt.Sprintf("evt-%d", i), "id-1"), deltas); err != nil {
					return false
				}
				sum += n
			}
			if len(amounts) == 0 {
				return true
			}
			snap, err := l.Snapshot(ctx, "id-1")
			if err != nil {
				return false
			}
			return snap.Balances.Get(token.DharmaPoints) == token.Amount(sum)
		},
		gen.SliceOf(gen.Int64Range(-100000, 100000)),
	))

	properties.TestingRun(t)
}

// Property: replaying any committed event never changes state.
func TestLedgerReplayIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replay is a no-op", prop.ForAll(
		func(n int64, replays uint8) bool {
			st := store.NewMemoryStore()
			l := ledger.New(st, lifecycle.NewMachine(lifecycle.DefaultConfig()), nil)
			ctx := context.Background()

			deltas := token.DeltaSet{{Token: token.SevaPoints, Amount: token.Amount(n)}}
			first, err := l.Apply(ctx, lifeEvent("evt-1", "id-1"), deltas)
			if err != nil {
				return false
			}
			for i := 0; i < int(replays%8); i++ {
				snap, err := l.Apply(ctx, lifeEvent("evt-1", "id-1"), deltas)
				if err != nil {
					return false
				}
				if snap.Seq != first.Seq || snap.Balances.Get(token.SevaPoints) != first.Balances.Get(token.SevaPoints) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(-100000, 100000),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// Property: inheritance is a pure function of the sanchita amount.
func TestInheritanceDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	machine := lifecycle.NewMachine(lifecycle.DefaultConfig())
	properties.Property("inherited sanchita is deterministic and bounded", prop.ForAll(
		func(n int64) bool {
			s := token.Amount(n)
			a := machine.InheritedSanchita(s)
			b := machine.InheritedSanchita(s)
			if a != b {
				return false
			}
			if s >= 0 {
				return a >= 0 && a <= s
			}
			return a <= 0 && a >= s
		},
		gen.Int64Range(-1_000_000_00, 1_000_000_00),
	))

	properties.TestingRun(t)
}
