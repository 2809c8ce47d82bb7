package policy

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/config"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// Engine is the deterministic, side-effect-free rule evaluator described in
// §4.1. It holds only immutable configuration and the compiled custom
// rules; all mutable per-incident state lives in *tool.AgentState and is
// passed in by the caller (the Autonomy Loop).
type Engine struct {
	cfg      *config.PolicyConfig
	registry *tool.LiveRegistry
	rules    []compiledCustomRule
}

// NewEngine builds an Engine. Custom rule expressions are compiled once
// here so Evaluate never performs I/O (§4.1's "policy evaluation is fast
// and synchronous"); the argument schema of a tool with required keys is
// still built and compiled on each Evaluate.
func NewEngine(cfg *config.PolicyConfig, registry *tool.LiveRegistry) (*Engine, error) {
	rules, err := compileCustomRules(cfg.CustomRules)
	if err != nil {
		return nil, fmt.Errorf("compiling custom policy rules: %w", err)
	}
	return &Engine{cfg: cfg, registry: registry, rules: rules}, nil
}

// invariantBreach panics to signal a violation of a policy invariant the
// system asserts can never occur in correct operation (§7 category 7:
// "fatal; the loop aborts the incident, never continues"). The Autonomy
// Loop recovers this at its top level and converts it into an incident
// abort with a non-zero process exit, per §7's exit-code contract.
type invariantBreach struct {
	rule   string
	detail string
}

func (e *invariantBreach) Error() string {
	return fmt.Sprintf("policy invariant breach [%s]: %s", e.rule, e.detail)
}

// Evaluate runs the fixed decision order from §4.1 against action in the
// context of state, then any configured custom rules. It returns the
// decision and a short human-readable reason suitable for the Trust
// Ledger and Cognitive Trace.
//
// Evaluate panics with *invariantBreach if it is about to return Allow in
// violation of one of the two runtime assertions §4.1 requires: a
// blacklisted tool must never be allowed, and a tool not marked
// prod_allowed must never be allowed while state.Environment is
// "production". These are self-checks on the engine's own rule
// application, not recoverable policy outcomes.
func (e *Engine) Evaluate(action ProposedAction, state *tool.AgentState) (Decision, string) {
	reg := e.registry.Current()
	t, ok := reg.Get(action.Tool)
	if !ok {
		return Block, fmt.Sprintf("unknown tool %q", action.Tool)
	}
	if err := validateArgs(t, action.Args); err != nil {
		return Block, err.Error()
	}

	ts := state.StateFor(t.ID)

	// Rule 0: blacklisted tool.
	if ts.IsBlacklisted {
		return Block, fmt.Sprintf("tool %q is blacklisted: %s", t.ID, ts.BlacklistReason)
	}

	// Rule 1: action budget exhausted.
	if state.ActionsTaken >= state.MaxActions {
		return Escalate, fmt.Sprintf("action budget exhausted (%d/%d)", state.ActionsTaken, state.MaxActions)
	}

	// Rule 2: production lockout for tools not cleared for prod.
	if !t.ProdAllowed && state.Environment == "production" {
		return Block, fmt.Sprintf("tool %q is not cleared for production", t.ID)
	}

	// Rule 3: high or critical risk always waits for human approval.
	if t.Risk == tool.RiskHigh || t.Risk == tool.RiskCritical {
		return WaitApproval, fmt.Sprintf("tool %q is risk=%s, requires approval", t.ID, t.Risk)
	}

	// Rule 4: repeated failure in this incident escalates rather than
	// letting the agent keep digging.
	if state.LastActionFailed && state.EscalationCount >= 2 {
		return Escalate, "last action failed and escalation threshold reached"
	}

	// Rule 5: medium risk requires both the model and the tool to be
	// sufficiently confident, else escalate to a human.
	if t.Risk == tool.RiskMedium {
		if action.ModelConfidence < e.cfg.MediumRiskMinModelConf || ts.Confidence < e.cfg.MediumRiskMinToolConf {
			return Escalate, fmt.Sprintf("tool %q is risk=medium with low confidence (model=%.2f tool=%.2f)", t.ID, action.ModelConfidence, ts.Confidence)
		}
	}

	// Rule 6: custom CEL rules run last, after every fixed rule has had a
	// chance to block or escalate outright.
	if dec, reason, ok := e.evalCustomRules(action, state); ok {
		return dec, reason
	}

	if ts.IsBlacklisted {
		panic(&invariantBreach{rule: "allow-not-blacklisted", detail: fmt.Sprintf("about to allow blacklisted tool %q", t.ID)})
	}
	if !t.ProdAllowed && state.Environment == "production" {
		panic(&invariantBreach{rule: "allow-not-prod-cleared", detail: fmt.Sprintf("about to allow non-prod tool %q in production", t.ID)})
	}

	return Allow, fmt.Sprintf("tool %q cleared", t.ID)
}

// UpdateToolStats applies the confidence decay/boost arithmetic from §4.1
// after a tool invocation's outcome is known, then re-evaluates the
// blacklist across every tool the agent has touched. used is the tool ID
// that was actually invoked this step; success reflects its outcome.
func (e *Engine) UpdateToolStats(state *tool.AgentState, used string, success bool) {
	now := time.Now()
	for id, ts := range state.ToolStates {
		switch {
		case id == used && success:
			ts.UsageCount++
			ts.LastUsedAt = &now
			ts.Confidence *= e.cfg.BoostSuccess
		case id == used && !success:
			ts.UsageCount++
			ts.LastUsedAt = &now
			ts.FailureCount++
			ts.Confidence *= e.cfg.DecayFailed
		default:
			ts.Confidence *= e.cfg.DecayUnused
		}
		if ts.Confidence < e.cfg.MinConfidence {
			ts.Confidence = e.cfg.MinConfidence
		}
		ts.Clamp()
	}

	for id, ts := range state.ToolStates {
		if ts.IsBlacklisted {
			continue
		}
		switch {
		case ts.FailureCount >= e.cfg.BlacklistFailureCount:
			ts.IsBlacklisted = true
			ts.BlacklistReason = fmt.Sprintf("failure_count %d >= %d", ts.FailureCount, e.cfg.BlacklistFailureCount)
		case ts.Confidence <= e.cfg.BlacklistMinConfidence:
			ts.IsBlacklisted = true
			ts.BlacklistReason = fmt.Sprintf("confidence %.2f <= %.2f", ts.Confidence, e.cfg.BlacklistMinConfidence)
		}
		_ = id
	}
}
