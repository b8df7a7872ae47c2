package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/audit"
)

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		identityID string
		outPath    string
		start      string
		end        string
		jsonOutput bool
	)
	cmd.StringVar(&identityID, "identity", "", "Identity whose trail to export (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the evidence pack zip (REQUIRED)")
	cmd.StringVar(&start, "start", "", "Window start (RFC3339, optional)")
	cmd.StringVar(&end, "end", "", "Window end (RFC3339, optional)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if identityID == "" || outPath == "" {
		fmt.Fprintln(stderr, "Error: --identity and --out are required")
		cmd.Usage()
		return 2
	}

	req := audit.ExportRequest{IdentityID: identityID}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			fmt.Fprintf(stderr, "Error: bad --start: %v\n", err)
			return 2
		}
		req.StartTime = t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			fmt.Fprintf(stderr, "Error: bad --end: %v\n", err)
			return 2
		}
		req.EndTime = t
	}

	ctx := context.Background()
	led, st, closeDB, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeDB()

	pack, checksum, err := audit.NewExporter(st, led).GeneratePack(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "Error generating pack: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outPath, pack, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error writing pack: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"identity_id": identityID,
			"pack_path":   outPath,
			"checksum":    checksum,
			"size_bytes":  len(pack),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "%sEvidence pack written%s: %s (sha256 %s)\n", ColorBold+ColorGreen, ColorReset, outPath, checksum)
	}
	return 0
}
