// Package shadow implements the Shadow Runner: a digital-twin dry run
// that executes a proposed action against an isolated environment and
// scores it with the same Outcome Scorer used in production, before the
// action ever touches anything real (§4.2 step 5, dedicated shadow
// section).
package shadow

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/outcome"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// Executor runs one tool invocation against the digital twin and
// reports what happened. An error return models the tool execution
// itself raising, not a tool-level failure outcome (those are expressed
// via outcome.Outcome{Success: false, Error: ...}).
type Executor func(ctx context.Context, tool string, args map[string]any) (outcome.Outcome, error)

// Provisioner and Teardown let a caller wire up a real digital twin
// (containers, a cloned namespace, Terraform workspace); both default to
// no-ops when the Runner is built with New.
type Provisioner func(ctx context.Context) error
type Teardown func(ctx context.Context) error

// Result is the outcome of one shadow simulation (§3).
type Result struct {
	Outcome     outcome.Outcome `json:"outcome"`
	Score       outcome.Score   `json:"score"`
	SimulatedAt time.Time       `json:"simulated_at"`
}

// Passed reports whether the simulation cleared the bar for promoting
// the real action: a positive score AND the outcome itself succeeded.
func (r Result) Passed() bool {
	return r.Score.IsPositive() && r.Outcome.Success
}

// Runner provisions a digital twin, executes one action against it,
// scores the result, and always tears the twin back down.
type Runner struct {
	executor    Executor
	scorer      *outcome.Scorer
	provision   Provisioner
	teardown    Teardown
}

// New builds a Runner with a fresh Outcome Scorer and no-op twin
// lifecycle hooks.
func New(executor Executor) *Runner {
	return &Runner{
		executor:  executor,
		scorer:    outcome.NewScorer(),
		provision: func(context.Context) error { return nil },
		teardown:  func(context.Context) error { return nil },
	}
}

// WithScorer overrides the scorer (e.g. to share state/baseline with the
// production scorer).
func (r *Runner) WithScorer(scorer *outcome.Scorer) *Runner {
	r.scorer = scorer
	return r
}

// WithLifecycle overrides how the digital twin is provisioned and torn
// down.
func (r *Runner) WithLifecycle(provision Provisioner, teardown Teardown) *Runner {
	r.provision = provision
	r.teardown = teardown
	return r
}

// Simulate runs tool against the digital twin and scores the result.
// Teardown always runs, even if provisioning, execution, or scoring
// fails.
func (r *Runner) Simulate(ctx context.Context, tool string, args map[string]any) (Result, error) {
	defer func() { _ = r.teardown(ctx) }()
	if err := r.provision(ctx); err != nil {
		return Result{}, fmt.Errorf("provisioning digital twin: %w", err)
	}

	shadowArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		shadowArgs[k] = v
	}
	shadowArgs["_execution_mode"] = "shadow"

	actionOutcome, err := r.executor(ctx, tool, shadowArgs)
	if err != nil {
		actionOutcome = outcome.Outcome{Success: false, Error: err.Error()}
	}

	score := r.scorer.Score(actionOutcome, outcome.Context{RiskLevel: tool.RiskNone})

	return Result{
		Outcome:     actionOutcome,
		Score:       score,
		SimulatedAt: time.Now(),
	}, nil
}
