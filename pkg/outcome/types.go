// Package outcome turns a tool result into a numeric learning signal: the
// Outcome Scorer (§4.3).
package outcome

import "github.com/codeready-toolchain/opsagent/pkg/tool"

// Category is the closed sum type an OutcomeScore falls into (§3 OutcomeScore).
type Category string

const (
	Success        Category = "success"
	PartialSuccess Category = "partial_success"
	Failure        Category = "failure"
	Timeout        Category = "timeout"
	Blocked        Category = "blocked"
	Escalated      Category = "escalated"
)

// IsValid reports whether c is one of the declared categories.
func (c Category) IsValid() bool {
	switch c {
	case Success, PartialSuccess, Failure, Timeout, Blocked, Escalated:
		return true
	default:
		return false
	}
}

// Outcome is the raw result of a tool invocation (§3 Outcome), produced
// exclusively by a tool executor or the Shadow Runner.
type Outcome struct {
	Success         bool
	Error           string
	SideEffects     bool
	Data            map[string]any
	ExecutionTimeMS int64
}

// Score is the scored outcome with factor attribution (§3 OutcomeScore).
// Invariant: Score equals the sum of Factors, clamped to [0, 100].
type Score struct {
	Score      float64
	Category   Category
	Confidence float64
	Factors    map[string]float64
}

// IsPositive mirrors the original scorer's is_positive property.
func (s Score) IsPositive() bool {
	return s.Score >= 70
}

// IsLearningSignal mirrors the original scorer's is_learning_signal
// property: only confident scores should move confidence/playbook state.
func (s Score) IsLearningSignal() bool {
	return s.Confidence >= 0.7
}

// Context supplies the scoring inputs that come from outside the raw
// Outcome: which attempt this was, the tool's declared risk, and how much
// historical data backs the score (§4.3).
type Context struct {
	AttemptNumber        int
	RiskLevel             tool.RiskLevel
	HistoricalDataPoints  int
	ToolKnown             bool
}
