package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/opsagent/pkg/config"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

func testRegistry(t *testing.T) *tool.LiveRegistry {
	t.Helper()
	reg, err := tool.NewRegistry(map[string]tool.Tool{
		"restart_service": {Risk: tool.RiskLow, ProdAllowed: true},
		"drop_table":      {Risk: tool.RiskCritical, ProdAllowed: false},
		"scale_deployment": {
			Risk:              tool.RiskMedium,
			ProdAllowed:       true,
			RequiredInputKeys: []string{"replicas"},
		},
		"rm_rf": {Risk: tool.RiskHigh, ProdAllowed: false},
	})
	require.NoError(t, err)
	return tool.NewLiveRegistry(reg)
}

func testPolicyConfig() *config.PolicyConfig {
	return &config.PolicyConfig{
		MaxActions:             3,
		Environment:            "dev",
		MediumRiskMinModelConf: 0.70,
		MediumRiskMinToolConf:  0.50,
		BlacklistFailureCount:  2,
		BlacklistMinConfidence: 0.20,
		DecayUnused:            0.99,
		DecayFailed:            0.95,
		BoostSuccess:           1.05,
		MinConfidence:          0.10,
	}
}

func TestEvaluateAllowsLowRiskTool(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, _ := eng.Evaluate(ProposedAction{Tool: "restart_service"}, state)
	assert.Equal(t, Allow, dec)
}

func TestEvaluateBlocksUnknownTool(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, reason := eng.Evaluate(ProposedAction{Tool: "nonexistent"}, state)
	assert.Equal(t, Block, dec)
	assert.Contains(t, reason, "unknown tool")
}

func TestEvaluateBlocksMissingRequiredArg(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, _ := eng.Evaluate(ProposedAction{Tool: "scale_deployment", Args: map[string]any{}}, state)
	assert.Equal(t, Block, dec)
}

func TestEvaluateHighAndCriticalRiskWaitForApproval(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, _ := eng.Evaluate(ProposedAction{Tool: "rm_rf"}, state)
	assert.Equal(t, WaitApproval, dec)

	dec, _ = eng.Evaluate(ProposedAction{Tool: "drop_table"}, state)
	assert.Equal(t, WaitApproval, dec)
}

func TestEvaluateBlocksNonProdToolInProduction(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "production")
	// rm_rf is high risk so it would wait for approval before the prod
	// check is reached in a naive ordering; use a low-risk, non-prod tool
	// to isolate rule 2.
	reg, err := tool.NewRegistry(map[string]tool.Tool{
		"local_only": {Risk: tool.RiskLow, ProdAllowed: false},
	})
	require.NoError(t, err)
	eng2, err := NewEngine(testPolicyConfig(), tool.NewLiveRegistry(reg))
	require.NoError(t, err)

	dec, reason := eng2.Evaluate(ProposedAction{Tool: "local_only"}, state)
	assert.Equal(t, Block, dec)
	assert.Contains(t, reason, "not cleared for production")
}

func TestEvaluateEscalatesOnExhaustedBudget(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	state.ActionsTaken = state.MaxActions
	dec, _ := eng.Evaluate(ProposedAction{Tool: "restart_service"}, state)
	assert.Equal(t, Escalate, dec)
}

func TestEvaluateEscalatesOnRepeatedFailure(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	state.LastActionFailed = true
	state.EscalationCount = 2
	dec, _ := eng.Evaluate(ProposedAction{Tool: "restart_service"}, state)
	assert.Equal(t, Escalate, dec)
}

func TestEvaluateEscalatesMediumRiskOnLowConfidence(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, _ := eng.Evaluate(ProposedAction{
		Tool:            "scale_deployment",
		Args:            map[string]any{"replicas": 3},
		ModelConfidence: 0.40,
	}, state)
	assert.Equal(t, Escalate, dec)
}

func TestEvaluateAllowsMediumRiskWithSufficientConfidence(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	dec, _ := eng.Evaluate(ProposedAction{
		Tool:            "scale_deployment",
		Args:            map[string]any{"replicas": 3},
		ModelConfidence: 0.95,
	}, state)
	assert.Equal(t, Allow, dec)
}

func TestEvaluateBlocksBlacklistedTool(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	ts := state.StateFor("restart_service")
	ts.IsBlacklisted = true
	ts.BlacklistReason = "failure_count 2 >= 2"

	dec, reason := eng.Evaluate(ProposedAction{Tool: "restart_service"}, state)
	assert.Equal(t, Block, dec)
	assert.Contains(t, reason, "blacklisted")
}

func TestEvaluateCustomRuleBlocks(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.CustomRules = []config.CustomRule{
		{
			Name:       "no-weekend-restarts",
			Expression: `state.environment == "production" && action.tool == "restart_service"`,
			Reason:     "weekend restarts require a human",
			Decision:   "block",
		},
	}
	eng, err := NewEngine(cfg, testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "production")
	dec, reason := eng.Evaluate(ProposedAction{Tool: "restart_service"}, state)
	assert.Equal(t, Block, dec)
	assert.Equal(t, "weekend restarts require a human", reason)
}

func TestUpdateToolStatsBoostsOnSuccessAndDecaysOthers(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	state.StateFor("restart_service")
	state.StateFor("scale_deployment")

	eng.UpdateToolStats(state, "restart_service", true)

	used := state.ToolStates["restart_service"]
	other := state.ToolStates["scale_deployment"]
	assert.InDelta(t, tool.InitialConfidence*1.05, used.Confidence, 1e-9)
	assert.InDelta(t, tool.InitialConfidence*0.99, other.Confidence, 1e-9)
}

func TestUpdateToolStatsBlacklistsAfterRepeatedFailure(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	state.StateFor("restart_service")

	eng.UpdateToolStats(state, "restart_service", false)
	assert.False(t, state.ToolStates["restart_service"].IsBlacklisted)

	eng.UpdateToolStats(state, "restart_service", false)
	assert.True(t, state.ToolStates["restart_service"].IsBlacklisted)
}

func TestUpdateToolStatsBlacklistsOnConfidenceFloor(t *testing.T) {
	eng, err := NewEngine(testPolicyConfig(), testRegistry(t))
	require.NoError(t, err)

	state := tool.Reset("incident-1", "dev")
	ts := state.StateFor("restart_service")
	ts.Confidence = 0.21

	eng.UpdateToolStats(state, "restart_service", false)
	assert.True(t, state.ToolStates["restart_service"].IsBlacklisted)
}
