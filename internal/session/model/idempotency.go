package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeIdempotencyKey implements the spec's explicit idempotency
// formula — hash(session_id, branch_id, round_no, kind, ref) — which
// supersedes original_source/services/job_queue_interface.py's
// compute_idempotency_key (that version additionally hashes the full
// sorted-JSON payload; the spec's narrower, explicit field set is
// authoritative here).
func ComputeIdempotencyKey(sessionID, branchID string, roundNo int, kind JobKind, ref string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", sessionID, branchID, roundNo, kind, ref)
	return hex.EncodeToString(h.Sum(nil))
}
