package learning

import (
	"testing"

	"github.com/codeready-toolchain/opsagent/pkg/playbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	outcomeEngine, err := NewOutcomeEngine("")
	require.NoError(t, err)

	playbookEngine, err := playbook.New()
	require.NoError(t, err)

	return NewOrchestrator(outcomeEngine, playbookEngine, NewPolicyLearner())
}

func TestProcessFindingUsesBuiltinPlaybookAndSavesLLMCall(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.ProcessFinding("finding-1", "SQL_INJECTION", map[string]string{
		"language": "nodejs", "framework": "express",
	}, nil)

	assert.Equal(t, DecisionUsePlaybook, result.FixDecision)
	assert.Equal(t, "PB-SQLI-NODE-EXPRESS-001", result.PlaybookUsed)
	assert.False(t, result.LLMUsed)
	assert.InDelta(t, defaultEstimatedLLMCostPerCall, result.LLMCostSaved, 1e-9)
}

func TestProcessFindingWithNoPlaybookFallsBackToLLM(t *testing.T) {
	o := newTestOrchestrator(t)

	calledWith := ""
	result := o.ProcessFinding("finding-1", "NOVEL_FINDING_TYPE", nil, func(findingType string) (string, error) {
		calledWith = findingType
		return "fix text", nil
	})

	assert.Equal(t, DecisionUseLLM, result.FixDecision)
	assert.True(t, result.LLMUsed)
	assert.Equal(t, "NOVEL_FINDING_TYPE", calledWith)
}

func TestRecordVerificationUpdatesPlaybookConfidence(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.ProcessFinding("finding-1", "SQL_INJECTION", map[string]string{
		"language": "nodejs", "framework": "express",
	}, nil)

	before, ok := o.playbookEngine.GetPlaybook(result.PlaybookUsed)
	require.True(t, ok)

	require.NoError(t, o.RecordVerification(result.LoopID, true, false, 30, 0.9))

	after, ok := o.playbookEngine.GetPlaybook(result.PlaybookUsed)
	require.True(t, ok)
	assert.NotEqual(t, before.Confidence, after.Confidence)
}

func TestCreatePlaybookFromSuccessOnlyAppliesToVerifiedLLMFixes(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.ProcessFinding("finding-1", "NOVEL_FINDING_TYPE", nil, func(string) (string, error) { return "", nil })
	require.NoError(t, o.RecordVerification(result.LoopID, true, false, 60, 0.7))

	p, err := o.CreatePlaybookFromSuccess(result.LoopID, "fixed it", "template")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	assert.Equal(t, playbook.SourceLLMConverted, p.Source)
}

func TestCreatePlaybookFromSuccessSkipsPlaybookPathResults(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.ProcessFinding("finding-1", "SQL_INJECTION", map[string]string{
		"language": "nodejs", "framework": "express",
	}, nil)
	require.NoError(t, o.RecordVerification(result.LoopID, true, false, 10, 0.9))

	p, err := o.CreatePlaybookFromSuccess(result.LoopID, "desc", "tmpl")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetSystemIntelligenceReportsMaturity(t *testing.T) {
	o := newTestOrchestrator(t)

	o.ProcessFinding("finding-1", "SQL_INJECTION", map[string]string{
		"language": "nodejs", "framework": "express",
	}, nil)

	report := o.GetSystemIntelligence()
	assert.Equal(t, 1, report.TotalLoopsProcessed)
	assert.InDelta(t, 1.0, report.PlaybookUsageRate, 1e-9)
	assert.NotEmpty(t, report.Maturity.Level)
}
