package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordApplicationAdjustsConfidenceByOutcome(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.RecordApplication("risk-gate", Effective))
	assert.InDelta(t, 0.52, s.GetPolicyConfidence("risk-gate"), 1e-9)

	require.NoError(t, s.RecordApplication("risk-gate", Wrong))
	assert.InDelta(t, 0.44, s.GetPolicyConfidence("risk-gate"), 1e-9)

	require.NoError(t, s.RecordApplication("risk-gate", Bypassed))
	assert.InDelta(t, 0.39, s.GetPolicyConfidence("risk-gate"), 1e-9)
}

func TestIsBrittleRequiresEnoughDataAndHighWrongRate(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordApplication("flaky", Wrong))
	}
	assert.Empty(t, s.GetBrittlePolicies())

	require.NoError(t, s.RecordApplication("flaky", Wrong))
	assert.Len(t, s.GetBrittlePolicies(), 1)
}

func TestGetUnusedPoliciesFindsNeverApplied(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.RegisterPolicy("never-used", "risk_gate", "")
	require.NoError(t, err)

	unused := s.GetUnusedPolicies(30)
	require.Len(t, unused, 1)
	assert.Equal(t, "never-used", unused[0].PolicyID)
}

func TestSuggestPolicyChangesCombinesBrittleAndUnused(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordApplication("flaky", Wrong))
	}
	_, err = s.RegisterPolicy("idle", "action_limit", "")
	require.NoError(t, err)

	suggestions := s.SuggestPolicyChanges()
	assert.Len(t, suggestions, 2)
}
