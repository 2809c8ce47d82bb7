package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/codeready-toolchain/opsagent/pkg/config"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// compiledCustomRule pairs a compiled CEL program with the decision it
// produces when the expression evaluates true, letting operators add
// supplemental policy without recompiling the binary (SPEC_FULL.md DOMAIN
// STACK: cel-go).
type compiledCustomRule struct {
	name     string
	reason   string
	decision Decision
	program  cel.Program
}

var customRuleEnv = mustCustomRuleEnv()

func mustCustomRuleEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("policy: building CEL environment: %v", err))
	}
	return env
}

func compileCustomRules(rules []config.CustomRule) ([]compiledCustomRule, error) {
	compiled := make([]compiledCustomRule, 0, len(rules))
	for _, r := range rules {
		decision := Decision(r.Decision)
		if !decision.IsValid() || (decision != Block && decision != Escalate) {
			return nil, fmt.Errorf("custom rule %q: decision %q must be block or escalate", r.Name, r.Decision)
		}

		ast, issues := customRuleEnv.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("custom rule %q: %w", r.Name, issues.Err())
		}
		prg, err := customRuleEnv.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", r.Name, err)
		}

		compiled = append(compiled, compiledCustomRule{
			name:     r.Name,
			reason:   r.Reason,
			decision: decision,
			program:  prg,
		})
	}
	return compiled, nil
}

// evalCustomRules runs every compiled custom rule in declaration order and
// returns the first one whose expression evaluates true. A rule whose
// expression errors at evaluation time is treated as non-matching rather
// than aborting the whole evaluation, so one bad operator-supplied
// expression cannot take down policy evaluation for every action.
func (e *Engine) evalCustomRules(action ProposedAction, state *tool.AgentState) (Decision, string, bool) {
	if len(e.rules) == 0 {
		return "", "", false
	}

	actionVars := map[string]any{
		"tool":             action.Tool,
		"args":             action.Args,
		"reasoning":        action.Reasoning,
		"model_confidence": action.ModelConfidence,
	}
	stateVars := map[string]any{
		"incident_id":       state.IncidentID,
		"actions_taken":     state.ActionsTaken,
		"max_actions":       state.MaxActions,
		"environment":       state.Environment,
		"escalation_count":  state.EscalationCount,
		"last_action_failed": state.LastActionFailed,
	}

	for _, rule := range e.rules {
		out, _, err := rule.program.Eval(map[string]any{
			"action": actionVars,
			"state":  stateVars,
		})
		if err != nil {
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		reason := rule.reason
		if reason == "" {
			reason = fmt.Sprintf("custom rule %q matched", rule.name)
		}
		return rule.decision, reason, true
	}
	return "", "", false
}
