package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateSignalTreatsUnseenPatternAsMediumValue(t *testing.T) {
	l := NewPolicyLearner()

	process, classification, reason := l.EvaluateSignal("finding", "SQL_INJECTION", "scanner-a")
	assert.True(t, process)
	assert.Equal(t, MediumValue, classification)
	assert.Equal(t, "new_pattern", reason)
}

func TestEvaluateSignalSuppressesNoiseAfterLearning(t *testing.T) {
	l := NewPolicyLearner()

	l.EvaluateSignal("finding", "LOW_SEVERITY_LINT", "scanner-a")
	for i := 0; i < 20; i++ {
		l.RecordSignalOutcome("finding", "LOW_SEVERITY_LINT", "scanner-a", false, true)
	}

	process, classification, _ := l.EvaluateSignal("finding", "LOW_SEVERITY_LINT", "scanner-a")
	assert.False(t, process)
	assert.Equal(t, Noise, classification)
}

func TestEvaluateSignalKeepsProcessingHighActionRateSignal(t *testing.T) {
	l := NewPolicyLearner()

	l.EvaluateSignal("finding", "SQL_INJECTION", "scanner-a")
	for i := 0; i < 10; i++ {
		l.RecordSignalOutcome("finding", "SQL_INJECTION", "scanner-a", true, false)
	}

	process, classification, _ := l.EvaluateSignal("finding", "SQL_INJECTION", "scanner-a")
	assert.True(t, process)
	assert.Equal(t, HighValue, classification)
}

func TestGetRiskPriorityDefaultsWithoutData(t *testing.T) {
	l := NewPolicyLearner()

	score, reason := l.GetRiskPriority("NEW_FINDING", "production")
	assert.Equal(t, 0.5, score)
	assert.Equal(t, "no_learning_data", reason)
}

func TestRecordRiskOutcomeRaisesRiskScore(t *testing.T) {
	l := NewPolicyLearner()

	for i := 0; i < 5; i++ {
		l.RecordRiskOutcome("PRIVILEGE_ESCALATION", "production", true, true, true)
	}

	score, reason := l.GetRiskPriority("PRIVILEGE_ESCALATION", "production")
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "high_risk_incident_rate", reason)
}

func TestGetBestActionPrefersHighestEffectiveness(t *testing.T) {
	l := NewPolicyLearner()

	l.RecordActionOutcome("restart_service", "OOM", true, 30, 0.9)
	l.RecordActionOutcome("scale_pod", "OOM", true, 600, 0.3)

	action, _, reason := l.GetBestAction("OOM", []string{"restart_service", "scale_pod"})
	assert.Equal(t, "restart_service", action)
	assert.Equal(t, "learned_effectiveness", reason)
}

func TestGetBestActionFallsBackToFirstWithoutData(t *testing.T) {
	l := NewPolicyLearner()

	action, score, reason := l.GetBestAction("UNKNOWN", []string{"restart_service", "scale_pod"})
	assert.Equal(t, "restart_service", action)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, "no_learning_data", reason)
}
