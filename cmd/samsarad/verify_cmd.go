package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/samsara-labs/samsara/core/pkg/config"
	"github.com/samsara-labs/samsara/core/pkg/ledger"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/store"
)

// openLedger opens the configured database read side for CLI commands.
func openLedger(ctx context.Context) (*ledger.TokenLedger, store.Store, func(), error) {
	cfg := config.Load()
	db, _, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}
	st := store.NewSQLStore(db)
	machine := lifecycle.NewMachine(lifecycle.DefaultConfig())
	return ledger.New(st, machine, nil), st, func() { _ = db.Close() }, nil
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		identityID string
		jsonOutput bool
	)
	cmd.StringVar(&identityID, "identity", "", "Identity whose audit chain to verify (REQUIRED)")
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
	led, _, closeDB, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeDB()

	ok, head, err := led.VerifyAuditChain(ctx, identityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error verifying chain: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"identity_id": identityID,
			"valid":       ok,
			"chain_head":  head,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if ok {
		fmt.Fprintf(stdout, "%sChain valid%s for %s (head %s)\n", ColorBold+ColorGreen, ColorReset, identityID, head)
	} else {
		fmt.Fprintf(stdout, "Chain BROKEN for %s\n", identityID)
	}

	if !ok {
		return 1
	}
	return 0
}
