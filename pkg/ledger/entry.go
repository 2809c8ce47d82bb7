// Package ledger implements the Trust Ledger: an append-only,
// hash-chained audit trail of every significant event in the system
// (§3 LedgerEntry, §6 ledger.jsonl).
package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntryType is a closed enumeration of what a LedgerEntry records.
type EntryType string

const (
	EntryPolicyDecision EntryType = "policy_decision"
	EntryToolInvocation EntryType = "tool_invocation"
	EntryApproval       EntryType = "approval"
	EntryEscalation     EntryType = "escalation"
	EntryPlaybookMinted EntryType = "playbook_minted"
	EntryKillSwitch     EntryType = "kill_switch"
	EntryCompliance     EntryType = "compliance_evidence"
)

// IsValid reports whether t is one of the declared entry types.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryPolicyDecision, EntryToolInvocation, EntryApproval, EntryEscalation,
		EntryPlaybookMinted, EntryKillSwitch, EntryCompliance:
		return true
	default:
		return false
	}
}

// genesisSeed is hashed to produce the fixed genesis hash every ledger
// chain starts from (§3: "chain starts at a fixed genesis hash").
const genesisSeed = "opsagent-trust-ledger-genesis"

// GenesisHash is the fixed previous_hash value for a ledger's first entry.
var GenesisHash = func() string {
	sum := sha256.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(sum[:])
}()

// Entry is one hash-chained audit record (§3 LedgerEntry).
type Entry struct {
	ID           string            `json:"id"`
	EntryType    EntryType         `json:"entry_type"`
	Timestamp    time.Time         `json:"timestamp"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	ResourceID   string            `json:"resource_id"`
	Data         map[string]any    `json:"data"`
	PreviousHash string            `json:"previous_hash"`
	Hash         string            `json:"hash"`
}

// unhashed is Entry with the Hash field removed, for computing the
// canonical JSON that gets hashed; the field order must stay fixed so the
// same logical entry always hashes the same way.
type unhashed struct {
	ID           string         `json:"id"`
	EntryType    EntryType      `json:"entry_type"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceID   string         `json:"resource_id"`
	Data         map[string]any `json:"data"`
	PreviousHash string         `json:"previous_hash"`
}

// computeHash mirrors hashchain.go's ComputeHash, adapted from a
// pipe-delimited concatenation to the canonical-JSON form §3 specifies:
// hash = SHA-256(canonical JSON of all other fields).
func computeHash(e Entry) (string, error) {
	u := unhashed{
		ID:           e.ID,
		EntryType:    e.EntryType,
		Timestamp:    e.Timestamp,
		Actor:        e.Actor,
		Action:       e.Action,
		ResourceID:   e.ResourceID,
		Data:         e.Data,
		PreviousHash: e.PreviousHash,
	}
	canonical, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

var entropy = ulid.Monotonic(rand.Reader, 0)

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
