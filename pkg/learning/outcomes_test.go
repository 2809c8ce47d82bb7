package learning

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcomeRewardsSuccessfulPlaybookFix(t *testing.T) {
	e, err := NewOutcomeEngine("")
	require.NoError(t, err)

	e.SetPlaybookConfidence("PB-001", 0.6)
	_, err = e.RecordOutcome("finding-1", "SQL_INJECTION", FixFromPlaybook, "pass", "PB-001", 12, 0.8, false, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.62, e.GetPlaybookConfidence("PB-001"), 1e-9)
}

func TestRecordOutcomePenalizesRegression(t *testing.T) {
	e, err := NewOutcomeEngine("")
	require.NoError(t, err)

	e.SetPlaybookConfidence("PB-002", 0.6)
	_, err = e.RecordOutcome("finding-1", "XSS", FixFromPlaybook, "fail", "PB-002", 12, 0.1, true, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.45, e.GetPlaybookConfidence("PB-002"), 1e-9)
}

func TestGetEffectivenessStatsAggregatesByFindingType(t *testing.T) {
	e, err := NewOutcomeEngine("")
	require.NoError(t, err)

	_, err = e.RecordOutcome("f1", "SQL_INJECTION", FixFromPlaybook, "pass", "PB-001", 10, 0.9, false, nil)
	require.NoError(t, err)
	_, err = e.RecordOutcome("f2", "SQL_INJECTION", FixFromLLM, "fail", "", 20, 0.2, false, nil)
	require.NoError(t, err)

	stats := e.GetEffectivenessStats("SQL_INJECTION")
	assert.Equal(t, 2, stats.TotalFixes)
	assert.Equal(t, 1, stats.SuccessfulFixes)
	assert.Equal(t, 1, stats.PlaybookFixes)
	assert.Equal(t, 1, stats.LLMFixes)
	assert.True(t, stats.DataAvailable)
}

func TestGetEffectivenessStatsReportsNoDataForUnknownType(t *testing.T) {
	e, err := NewOutcomeEngine("")
	require.NoError(t, err)

	stats := e.GetEffectivenessStats("NEVER_SEEN")
	assert.False(t, stats.DataAvailable)
	assert.Equal(t, 0, stats.TotalFixes)
}

func TestShouldUsePlaybookRespectsConfidenceTiers(t *testing.T) {
	e, err := NewOutcomeEngine("")
	require.NoError(t, err)

	e.SetPlaybookConfidence("high", 0.9)
	e.SetPlaybookConfidence("marginal", 0.6)
	e.SetPlaybookConfidence("low", 0.2)

	use, _, reason := e.ShouldUsePlaybook("high", 0.7)
	assert.True(t, use)
	assert.Equal(t, "confidence_sufficient", reason)

	use, _, reason = e.ShouldUsePlaybook("marginal", 0.7)
	assert.False(t, use)
	assert.Equal(t, "confidence_marginal_use_llm", reason)

	use, _, reason = e.ShouldUsePlaybook("low", 0.7)
	assert.False(t, use)
	assert.Equal(t, "confidence_low_use_llm", reason)
}

func TestOutcomesPersistAcrossEngineReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outcomes")

	e, err := NewOutcomeEngine(dir)
	require.NoError(t, err)

	_, err = e.RecordOutcome("f1", "SQL_INJECTION", FixFromPlaybook, "pass", "PB-001", 10, 0.9, false, nil)
	require.NoError(t, err)

	reloaded, err := NewOutcomeEngine(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.OutcomeCount())
}
