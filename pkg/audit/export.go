package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/ledger"
	"github.com/samsara-labs/samsara/core/pkg/store"
)

var (
	// ErrEmptyIdentityID is returned when the identity ID is empty.
	ErrEmptyIdentityID = errors.New("audit: identity_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
)

// ExportRequest defines which slice of an identity's trail to export.
type ExportRequest struct {
	IdentityID string    `json:"identity_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Exporter bundles an identity's audit trail into an evidence pack.
type Exporter struct {
	store  store.Store
	ledger *ledger.TokenLedger
}

func NewExporter(st store.Store, led *ledger.TokenLedger) *Exporter {
	return &Exporter{store: st, ledger: led}
}

// GeneratePack creates a zip holding the trail rows and a manifest with
// the chain head and a verification verdict, plus the pack checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.IdentityID == "" {
		return nil, "", ErrEmptyIdentityID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	rows, err := e.store.AuditTrail(ctx, req.IdentityID, 0)
	if err != nil {
		return nil, "", fmt.Errorf("audit: load trail: %w", err)
	}

	// The trail comes back newest first; the pack reads oldest first,
	// the order the chain verifies in.
	filtered := make([]store.AuditRow, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if !req.StartTime.IsZero() && row.Timestamp.Before(req.StartTime) {
			continue
		}
		if !req.EndTime.IsZero() && row.Timestamp.After(req.EndTime) {
			continue
		}
		filtered = append(filtered, row)
	}

	verified, head, err := e.ledger.VerifyAuditChain(ctx, req.IdentityID)
	if err != nil {
		return nil, "", fmt.Errorf("audit: verify chain: %w", err)
	}

	rowsJSON, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal rows: %w", err)
	}

	manifest := map[string]interface{}{
		"identity_id":    req.IdentityID,
		"generated_at":   time.Now().UTC(),
		"row_count":      len(filtered),
		"chain_head":     head,
		"chain_verified": verified,
		"period": map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("audit_rows.json")
	if err != nil {
		return nil, "", fmt.Errorf("audit: create rows entry: %w", err)
	}
	_, _ = f.Write(rowsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", fmt.Errorf("audit: create manifest entry: %w", err)
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", fmt.Errorf("audit: create readme entry: %w", err)
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack for identity %s\nGenerated at %s\nChain verified: %v\n",
		req.IdentityID, time.Now().UTC().Format(time.RFC3339), verified)

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("audit: close pack: %w", err)
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}
