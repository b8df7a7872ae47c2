package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/samsara-labs/samsara/core/pkg/token"
)

func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		identityID string
		jsonOutput bool
	)
	cmd.StringVar(&identityID, "identity", "", "Identity to inspect (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if identityID == "" {
		fmt.Fprintln(stderr, "Error: --identity is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	led, st, closeDB, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeDB()

	snap, err := led.Snapshot(ctx, identityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	transitions, err := st.Transitions(ctx, identityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	debts, err := st.Debts(ctx, identityID, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"snapshot":    snap,
			"transitions": transitions,
			"open_debts":  debts,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "%s%s%s  generation %d  %s  seq %d\n",
		ColorBold+ColorCyan, snap.IdentityID, ColorReset, snap.Generation, snap.State, snap.Seq)
	for _, kind := range token.ScalarKinds() {
		fmt.Fprintf(stdout, "  %-16s %s\n", kind, snap.Balances.Get(kind))
	}
	for _, sev := range token.Severities() {
		fmt.Fprintf(stdout, "  paap[%-6s]     %d\n", sev, snap.Balances.Bucket(token.PaapTokens, sev))
	}
	if len(transitions) > 0 {
		fmt.Fprintf(stdout, "  transitions: %d (last trigger %s)\n", len(transitions), transitions[len(transitions)-1].Trigger)
	}
	if len(debts) > 0 {
		fmt.Fprintf(stdout, "  open debts: %d\n", len(debts))
	}
	return 0
}
