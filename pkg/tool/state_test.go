package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewToolStateStartsAtInitialConfidence(t *testing.T) {
	s := NewToolState()
	assert.Equal(t, InitialConfidence, s.Confidence)
	assert.False(t, s.IsBlacklisted)
}

func TestClampKeepsConfidenceInBounds(t *testing.T) {
	s := NewToolState()

	s.Confidence = 1.5
	s.Clamp()
	assert.Equal(t, MaxConfidence, s.Confidence)

	s.Confidence = -0.3
	s.Clamp()
	assert.Equal(t, MinConfidence, s.Confidence)

	s.Confidence = 0.73
	s.Clamp()
	assert.Equal(t, 0.73, s.Confidence)
}

func TestResetCreatesFreshAgentState(t *testing.T) {
	a := Reset("incident-1", "production")
	assert.Equal(t, "incident-1", a.IncidentID)
	assert.Equal(t, DefaultMaxActions, a.MaxActions)
	assert.Equal(t, "production", a.Environment)
	assert.Empty(t, a.ToolStates)
}

func TestStateForLazilyCreatesAtInitialConfidence(t *testing.T) {
	a := Reset("incident-1", "dev")
	s1 := a.StateFor("restart_service")
	assert.Equal(t, InitialConfidence, s1.Confidence)

	s1.Confidence = 0.9
	s2 := a.StateFor("restart_service")
	assert.Same(t, s1, s2)
	assert.Equal(t, 0.9, s2.Confidence)
}
