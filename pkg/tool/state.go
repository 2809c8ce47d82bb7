package tool

import "time"

// Confidence bounds per §3/§6: every ToolState.Confidence is clamped to
// this range on every update, never outside it.
const (
	MinConfidence     = 0.10
	MaxConfidence     = 1.00
	InitialConfidence = 0.50
)

// ToolState is the per-incident, per-tool mutable state the Policy Engine
// reads and updates (§3 ToolState).
type ToolState struct {
	Confidence      float64
	FailureCount    int
	UsageCount      int
	LastUsedAt      *time.Time
	IsBlacklisted   bool
	BlacklistReason string
}

// NewToolState returns the state a tool starts an incident with.
func NewToolState() *ToolState {
	return &ToolState{Confidence: InitialConfidence}
}

// Clamp re-applies the confidence bounds invariant. Called after every
// arithmetic update so a ToolState can never be observed out of range.
func (s *ToolState) Clamp() {
	if s.Confidence < MinConfidence {
		s.Confidence = MinConfidence
	}
	if s.Confidence > MaxConfidence {
		s.Confidence = MaxConfidence
	}
}

// AgentState is the per-incident state owned by the Autonomy Loop and
// mutated only by it and the Policy Engine (§3 AgentState).
type AgentState struct {
	IncidentID       string
	ActionsTaken     int
	MaxActions       int
	Environment      string
	EscalationCount  int
	LastActionFailed bool
	ToolStates       map[string]*ToolState
}

// DefaultMaxActions is the default cap on actions per incident (§3, §6).
const DefaultMaxActions = 3

// Reset creates a fresh AgentState for a new incident (§3 AgentState
// lifecycle: "created by reset(incident_id)").
func Reset(incidentID, environment string) *AgentState {
	return &AgentState{
		IncidentID:  incidentID,
		MaxActions:  DefaultMaxActions,
		Environment: environment,
		ToolStates:  make(map[string]*ToolState),
	}
}

// StateFor returns the ToolState for toolID, lazily creating one at the
// initial confidence if this is the tool's first appearance in the
// incident. Every registered tool implicitly starts at InitialConfidence;
// lazy creation keeps memory proportional to tools actually touched.
func (a *AgentState) StateFor(toolID string) *ToolState {
	s, ok := a.ToolStates[toolID]
	if !ok {
		s = NewToolState()
		a.ToolStates[toolID] = s
	}
	return s
}
