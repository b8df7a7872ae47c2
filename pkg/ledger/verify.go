package ledger

import (
	"context"
	"fmt"

	"github.com/samsara-labs/samsara/core/pkg/canonicalize"
	"github.com/samsara-labs/samsara/core/pkg/store"
)

// VerifyAuditChain recomputes every chain hash for an identity's audit
// trail and checks the prev-hash links. Returns false with a reason on
// the first broken row.
func (l *TokenLedger) VerifyAuditChain(ctx context.Context, identityID string) (bool, string, error) {
	rows, err := l.store.AuditTrail(ctx, identityID, 0)
	if err != nil {
		return false, "", err
	}
	// AuditTrail returns newest first; walk oldest first.
	prevHash := ""
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.PrevHash != prevHash {
			return false, fmt.Sprintf("row %d: prev_hash mismatch (got %s, want %s)", len(rows)-1-i, row.PrevHash, prevHash), nil
		}
		hash, err := canonicalize.CanonicalHash(auditRowDigest(row))
		if err != nil {
			return false, "", err
		}
		if hash != row.ChainHash {
			return false, fmt.Sprintf("row %d: chain_hash mismatch for event %s", len(rows)-1-i, row.EventID), nil
		}
		prevHash = row.ChainHash
	}
	return true, "", nil
}

func auditRowDigest(row store.AuditRow) map[string]interface{} {
	return map[string]interface{}{
		"identity_id":   row.IdentityID,
		"event_id":      row.EventID,
		"seq":           row.Seq,
		"token":         row.Token,
		"bucket":        row.Bucket,
		"counterpart":   row.Counterpart,
		"delta":         row.Delta,
		"balance_after": row.BalanceAfter,
		"prev_hash":     row.PrevHash,
	}
}
