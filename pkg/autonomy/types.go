// Package autonomy implements the Autonomy Loop (§4.2): the single-
// incident perceive -> reason -> policy -> (approval) -> (shadow) ->
// execute -> score -> memorize state machine. The loop never executes a
// model-proposed action itself; every proposal passes through the
// Policy Engine first, and every suspension point (model call, approval
// wait, shadow simulation) is expressed as a blocking call against a
// small interface so the kill switch can unblock it regardless of how a
// caller chooses to realize concurrency (§9 design note).
package autonomy

import (
	"context"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/approval"
	"github.com/codeready-toolchain/opsagent/pkg/reasoning"
	"github.com/codeready-toolchain/opsagent/pkg/shadow"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// Observation is one immutable perception fed into the loop (§3
// Observation).
type Observation struct {
	Content   string
	Source    string
	Timestamp time.Time
	Metadata  map[string]any
}

// NewObservation builds an Observation stamped with the current time.
func NewObservation(content, source string, metadata map[string]any) Observation {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Observation{Content: content, Source: source, Timestamp: time.Now(), Metadata: metadata}
}

// StepState is the closed set of states one run_step tick moves through
// (§4.2 per-step state machine). It is bookkeeping for observability,
// not a value any caller branches on — callers branch on the returned
// policy.Decision.
type StepState string

const (
	StateIdle             StepState = "idle"
	StatePerceiving       StepState = "perceiving"
	StateReasoning        StepState = "reasoning"
	StatePolicy           StepState = "policy"
	StateWaitingApproval  StepState = "waiting_approval"
	StateShadow           StepState = "shadow"
	StateExecuting        StepState = "executing"
	StateScoring          StepState = "scoring"
	StateMemorizing       StepState = "memorizing"
	StateBlocked          StepState = "blocked"
	StateEscalated        StepState = "escalated"
	StateKilled           StepState = "killed"
)

// ReasoningSink is the suspension point for "waiting on the external
// model provider" (§5). *reasoning.Orchestrator satisfies this directly.
type ReasoningSink interface {
	Reason(ctx context.Context, req reasoning.Request) reasoning.Response
}

// ApprovalSink is the suspension point for "waiting for an Approval Gate
// decision" (§5). *approval.Gate satisfies this directly.
type ApprovalSink interface {
	CheckApproval(ctx context.Context, agentID string, actionData map[string]any, riskLevel tool.RiskLevel, approvalCtx map[string]any) (bool, string, error)
	WaitForApproval(ctx context.Context, approvalID string, pollInterval time.Duration) (*approval.Request, error)
}

// ShadowSink is the suspension point for "waiting for a Shadow Runner
// simulation" (§5). *shadow.Runner satisfies this directly.
type ShadowSink interface {
	Simulate(ctx context.Context, tool string, args map[string]any) (shadow.Result, error)
}
