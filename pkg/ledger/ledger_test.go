package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsFromGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	e1, err := l.Append(EntryPolicyDecision, "policy-engine", "allow", "incident-1", map[string]any{"tool": "restart_service"})
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, e1.PreviousHash)
	assert.NotEmpty(t, e1.Hash)

	e2, err := l.Append(EntryToolInvocation, "executor", "run", "incident-1", map[string]any{"success": true})
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, e2.PreviousHash)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)

	_, err = l.Append(EntryPolicyDecision, "policy-engine", "allow", "incident-1", map[string]any{"tool": "a"})
	require.NoError(t, err)
	_, err = l.Append(EntryToolInvocation, "executor", "run", "incident-1", map[string]any{"success": true})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	entries, err := ReadAll(path)
	require.NoError(t, err)
	valid, broken := VerifyChain(entries)
	assert.True(t, valid)
	assert.Equal(t, -1, broken)

	entries[0].Action = "tampered"
	valid, broken = VerifyChain(entries)
	assert.False(t, valid)
	assert.Equal(t, 0, broken)
}

func TestOpenRecoversLastHashAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l1, err := Open(path)
	require.NoError(t, err)
	e1, err := l1.Append(EntryPolicyDecision, "policy-engine", "allow", "incident-1", nil)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	e2, err := l2.Append(EntryToolInvocation, "executor", "run", "incident-1", nil)
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, e2.PreviousHash)
}

func TestComplianceEvidenceFiltersByResource(t *testing.T) {
	entries := []Entry{
		{ResourceID: "incident-1", EntryType: EntryPolicyDecision},
		{ResourceID: "incident-2", EntryType: EntryToolInvocation},
		{ResourceID: "incident-1", EntryType: EntryApproval},
	}
	got := ComplianceEvidence(entries, "incident-1")
	assert.Len(t, got, 2)
}
