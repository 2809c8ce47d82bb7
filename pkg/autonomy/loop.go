package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/approval"
	"github.com/codeready-toolchain/opsagent/pkg/failure"
	"github.com/codeready-toolchain/opsagent/pkg/killswitch"
	"github.com/codeready-toolchain/opsagent/pkg/ledger"
	"github.com/codeready-toolchain/opsagent/pkg/memory/episodic"
	"github.com/codeready-toolchain/opsagent/pkg/outcome"
	"github.com/codeready-toolchain/opsagent/pkg/policy"
	"github.com/codeready-toolchain/opsagent/pkg/reasoning"
	"github.com/codeready-toolchain/opsagent/pkg/sanitize"
	"github.com/codeready-toolchain/opsagent/pkg/shadow"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// defaultLowConfidenceThreshold is the §4.2 step 3 override: an
// otherwise-ALLOWed action with a model confidence below this is bumped
// to WAIT_APPROVAL. It intentionally reuses the same 0-1 scale and
// default value as the Policy Engine's medium-risk confidence gate
// (§6 medium_risk_min_model_confidence) rather than introducing a
// second, differently-scaled threshold.
const defaultLowConfidenceThreshold = 0.70

const (
	defaultRequestTimeout      = 120 * time.Second
	defaultApprovalPollInterval = 500 * time.Millisecond
	defaultSafetyIterationCap   = 1000
)

// Loop drives one incident's perceive -> reason -> policy -> approval ->
// shadow -> execute -> score -> memorize cycle (§4.2). One Loop instance
// is shared across every incident it manages; per-incident state lives
// in tool.AgentState, guarded by a per-incident lock so steps for one
// incident always run in strict sequence while different incidents make
// progress concurrently (§5).
type Loop struct {
	registry   *tool.LiveRegistry
	policy     *policy.Engine
	reasoning  ReasoningSink
	episodic   *episodic.Store
	sanitizer  *sanitize.Sanitizer
	classifier *failure.Classifier
	executor   shadow.Executor

	approval ApprovalSink
	shadow   ShadowSink
	scorer   *outcome.Scorer
	ledger   *ledger.Ledger
	kill     *killswitch.Switch

	taskType             reasoning.TaskType
	lowConfidenceThresh  float64
	requestTimeout       time.Duration
	approvalPollInterval time.Duration
	safetyIterationCap   int

	replayDir string
	traceDir  string

	mu             sync.Mutex
	states         map[string]*tool.AgentState
	incidentLocks  map[string]*sync.Mutex
}

// NewLoop builds a Loop over its required collaborators: the tool
// registry, the Policy Engine, a model sink, the Episodic Store, the
// Sanitizer that guards every reasoning request, and the tool executor
// that actually performs an allowed action. rootDir is the storage root
// under which replay_buffer/ and data/cognitive_trace/ are created
// (§6). Approval, shadow validation, the ledger, and the kill switch are
// all optional and wired in with the With* methods below — an incident
// run without an approval gate simply never sees WAIT_APPROVAL turn
// into an executed action, since CheckApproval has nothing to call.
func NewLoop(
	registry *tool.LiveRegistry,
	policyEngine *policy.Engine,
	reasoningSink ReasoningSink,
	episodicStore *episodic.Store,
	sanitizer *sanitize.Sanitizer,
	executor shadow.Executor,
	rootDir string,
) (*Loop, error) {
	l := &Loop{
		registry:             registry,
		policy:               policyEngine,
		reasoning:            reasoningSink,
		episodic:             episodicStore,
		sanitizer:            sanitizer,
		classifier:           failure.NewClassifier(),
		executor:             executor,
		scorer:               outcome.NewScorer(),
		taskType:             reasoning.TaskRootCauseAnalysis,
		lowConfidenceThresh:  defaultLowConfidenceThreshold,
		requestTimeout:       defaultRequestTimeout,
		approvalPollInterval: defaultApprovalPollInterval,
		safetyIterationCap:   defaultSafetyIterationCap,
		replayDir:            fmt.Sprintf("%s/replay_buffer", rootDir),
		traceDir:             fmt.Sprintf("%s/data/cognitive_trace", rootDir),
		states:               make(map[string]*tool.AgentState),
		incidentLocks:        make(map[string]*sync.Mutex),
	}
	return l, nil
}

// WithApproval wires the Approval Gate suspension point.
func (l *Loop) WithApproval(sink ApprovalSink) *Loop { l.approval = sink; return l }

// WithShadow wires the Shadow Runner suspension point.
func (l *Loop) WithShadow(sink ShadowSink) *Loop { l.shadow = sink; return l }

// WithScorer overrides the default Outcome Scorer.
func (l *Loop) WithScorer(s *outcome.Scorer) *Loop { l.scorer = s; return l }

// WithLedger wires the Trust Ledger so every decision, approval, and
// tool invocation leaves a hash-chained audit record.
func (l *Loop) WithLedger(led *ledger.Ledger) *Loop { l.ledger = led; return l }

// WithKillSwitch wires the process-wide kill switch.
func (l *Loop) WithKillSwitch(k *killswitch.Switch) *Loop { l.kill = k; return l }

// WithTaskType overrides the reasoning task type routed for each
// perceive step (default: root_cause analysis).
func (l *Loop) WithTaskType(t reasoning.TaskType) *Loop { l.taskType = t; return l }

// WithRequestTimeout overrides the per-model-call timeout (§5 default
// 120s / 300s for local models; callers running only local models
// should pass the larger value).
func (l *Loop) WithRequestTimeout(d time.Duration) *Loop { l.requestTimeout = d; return l }

// WithApprovalPollInterval overrides how often WaitForApproval polls the
// legacy file sink and re-checks status between condition-variable
// wakeups.
func (l *Loop) WithApprovalPollInterval(d time.Duration) *Loop {
	l.approvalPollInterval = d
	return l
}

// Reset opens a fresh AgentState and Episodic Store incident for
// incidentID (§4.2 "reset(incident_id)").
func (l *Loop) Reset(incidentID, environment string) *tool.AgentState {
	state := tool.Reset(incidentID, environment)

	l.mu.Lock()
	l.states[incidentID] = state
	l.incidentLocks[incidentID] = &sync.Mutex{}
	l.mu.Unlock()

	l.episodic.StartIncident(incidentID)
	return state
}

// State returns incidentID's current AgentState, or nil if Reset was
// never called for it.
func (l *Loop) State(incidentID string) *tool.AgentState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[incidentID]
}

func (l *Loop) lockFor(incidentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.incidentLocks[incidentID]
	if !ok {
		lk = &sync.Mutex{}
		l.incidentLocks[incidentID] = lk
	}
	return lk
}

// killAware derives a context that is canceled as soon as the kill
// switch trips, on top of whatever deadline ctx already carries. It is
// used to wrap every suspension point so "a cancel signal unblocks all
// of them" holds regardless of which suspension is currently blocking
// (§5, §9).
func (l *Loop) killAware(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.kill == nil {
		return context.WithCancel(ctx)
	}
	child, cancel := context.WithCancel(ctx)
	if l.kill.IsActive() {
		cancel()
		return child, cancel
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-child.Done():
				return
			case <-ticker.C:
				if l.kill.IsActive() {
					cancel()
					return
				}
			}
		}
	}()
	return child, func() { close(stop); cancel() }
}

func (l *Loop) killed() bool {
	return l.kill != nil && l.kill.IsActive()
}

func (l *Loop) logDecision(incidentID string, entryType ledger.EntryType, action, resourceID string, data map[string]any) {
	if l.ledger == nil {
		return
	}
	_, _ = l.ledger.Append(entryType, "autonomy_loop", action, resourceID, data)
}

// RunStep executes one full tick of the state machine against
// observation for incidentID (§4.2 "run_step"). Outcome is nil whenever
// the policy decision is BLOCK or ESCALATE, since no tool ever ran.
func (l *Loop) RunStep(ctx context.Context, incidentID string, obs Observation) (policy.Decision, *outcome.Outcome, error) {
	lk := l.lockFor(incidentID)
	lk.Lock()
	defer lk.Unlock()

	state := l.State(incidentID)
	if state == nil {
		return policy.Block, nil, fmt.Errorf("autonomy: incident %s was never reset", incidentID)
	}

	// Cancellation is checked at every suspension point and before tool
	// execution (§4.2 "Cancellation"). The perceive step entry is itself
	// the first such checkpoint.
	if l.killed() {
		l.recordStep(incidentID, obs, nil, policy.Block, "kill switch active", nil)
		return policy.Block, nil, nil
	}

	action, response, err := l.perceiveAndReason(ctx, incidentID, obs)
	if err != nil {
		return policy.Block, nil, err
	}
	if !response.Success {
		// "Model errors ⇒ ESCALATE, no Outcome" (§4.2 Failure semantics).
		state.EscalationCount++
		l.recordStep(incidentID, obs, nil, policy.Escalate, "reasoning failed: "+response.Error, nil)
		l.logDecision(incidentID, ledger.EntryEscalation, "model_error", incidentID, map[string]any{"error": response.Error})
		return policy.Escalate, nil, nil
	}

	decision, reason, err := l.evaluatePolicy(incidentID, state, action)
	if err != nil {
		return policy.Block, nil, err
	}

	// §4.2 step 3: a nominally-ALLOWed action with low model confidence
	// is downgraded to a human wait rather than executed outright.
	if decision == policy.Allow && action.ModelConfidence < l.lowConfidenceThresh {
		decision = policy.WaitApproval
		reason = fmt.Sprintf("Low confidence (%.0f < %.0f), requires approval", action.ModelConfidence*100, l.lowConfidenceThresh*100)
	}

	l.logDecision(incidentID, ledger.EntryPolicyDecision, string(decision), incidentID, map[string]any{"tool": action.Tool, "reason": reason})

	if decision == policy.WaitApproval {
		decision, reason, err = l.runApproval(ctx, incidentID, state, action, reason)
		if err != nil {
			return policy.Block, nil, err
		}
	}

	switch decision {
	case policy.Block, policy.Escalate:
		if decision == policy.Escalate {
			state.EscalationCount++
		}
		l.recordStep(incidentID, obs, &action, decision, reason, nil)
		return decision, nil, nil
	}

	// decision == Allow from here on.
	t, _ := l.registry.Current().Get(action.Tool)
	if t != nil && t.ShadowBeforeProd {
		passed, shadowReason, err := l.runShadow(ctx, action)
		if err != nil {
			return policy.Block, nil, err
		}
		if !passed {
			l.recordStep(incidentID, obs, &action, policy.Block, shadowReason, nil)
			return policy.Block, nil, nil
		}
	}

	if l.killed() {
		l.recordStep(incidentID, obs, &action, policy.Block, "kill switch active", nil)
		return policy.Block, nil, nil
	}

	actionOutcome := l.execute(ctx, action)

	state.ActionsTaken++
	state.LastActionFailed = !actionOutcome.Success
	l.policy.UpdateToolStats(state, action.Tool, actionOutcome.Success)

	risk := tool.RiskMedium
	if t != nil {
		risk = t.Risk
	}
	score := l.scorer.Score(actionOutcome, outcome.Context{
		AttemptNumber:        1,
		RiskLevel:            risk,
		HistoricalDataPoints: state.StateFor(action.Tool).UsageCount,
		ToolKnown:            t != nil,
	})

	outcomeData := map[string]any{
		"success":           actionOutcome.Success,
		"error":             actionOutcome.Error,
		"side_effects":      actionOutcome.SideEffects,
		"execution_time_ms": actionOutcome.ExecutionTimeMS,
		"score":             score.Score,
		"category":          string(score.Category),
		"confidence":        score.Confidence,
	}
	l.recordStep(incidentID, obs, &action, policy.Allow, reason, outcomeData)
	l.logDecision(incidentID, ledger.EntryToolInvocation, action.Tool, incidentID, outcomeData)

	return policy.Allow, &actionOutcome, nil
}

// perceiveAndReason implements §4.2 steps 1-2: it sanitizes the
// observation, builds a reasoning request naming the tools currently in
// the registry, sends it to the model sink under a bounded timeout, and
// writes the cognitive trace record before returning.
func (l *Loop) perceiveAndReason(ctx context.Context, incidentID string, obs Observation) (policy.ProposedAction, reasoning.Response, error) {
	sanitized := l.sanitizer.Sanitize(obs.Content, false, false)

	toolSummaries := make([]map[string]any, 0, l.registry.Current().Len())
	for _, t := range l.registry.Current().All() {
		toolSummaries = append(toolSummaries, map[string]any{
			"id":          t.ID,
			"risk":        string(t.Risk),
			"description": t.Description,
		})
	}

	req := reasoning.NewRequest(l.taskType, map[string]any{
		"observation": sanitized.SanitizedText,
		"source":      obs.Source,
	}, map[string]any{
		"available_tools": toolSummaries,
		"metadata":        obs.Metadata,
	}, incidentID)

	reqCtx, cancel := l.killAware(ctx)
	reqCtx, timeoutCancel := context.WithTimeout(reqCtx, l.requestTimeout)
	defer cancel()
	defer timeoutCancel()

	response := l.reasoning.Reason(reqCtx, req)

	var action policy.ProposedAction
	if response.Success {
		var err error
		action, err = proposedActionFromResult(response.Result, response.Reasoning, response.Confidence)
		if err != nil {
			return policy.ProposedAction{}, response, &InvariantBreachError{IncidentID: incidentID, Detail: "malformed proposed action from model: " + err.Error()}
		}

		hash, err := reasoningHash(obs.Content, response.Reasoning, action)
		if err != nil {
			return action, response, fmt.Errorf("autonomy: %w", err)
		}
		trace := CognitiveTrace{
			IncidentID:      incidentID,
			Timestamp:       time.Now(),
			TaskType:        l.taskType,
			ModelUsed:       response.ModelUsed,
			Observation:     sanitized.SanitizedText,
			Reasoning:       response.Reasoning,
			ModelConfidence: action.ModelConfidence,
			Action:          action,
			ReasoningHash:   hash,
		}
		_ = writeJSONFile(l.traceDir, traceFilenameStamp(trace.Timestamp)+"_"+hash+".json", trace)
	}

	return action, response, nil
}

// proposedActionFromResult extracts a policy.ProposedAction from a
// model response's free-form result map. "tool" is required; "args"
// defaults to empty when absent, and a missing "confidence" falls back
// to fallbackConfidence (divided by 100 when it is above 1), since a
// model may legitimately propose a zero-argument tool at low confidence
// (which the low-confidence override then routes to human approval
// anyway).
// confidence is accepted on the 0-100 scale the model itself reports
// (matching §3's ProposedAction.model_confidence ∈ [0,100] and the
// "confidence=50" framing of spec.md's scenario 2) and normalized here
// to the Policy Engine's internal 0-1 scale.
func proposedActionFromResult(result map[string]any, reasoningText string, fallbackConfidence float64) (policy.ProposedAction, error) {
	toolID, ok := result["tool"].(string)
	if !ok || toolID == "" {
		return policy.ProposedAction{}, fmt.Errorf("response has no string \"tool\" field")
	}

	args, _ := result["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	confidence := fallbackConfidence
	if raw, ok := result["confidence"]; ok {
		if f, ok := toFloat(raw); ok {
			confidence = f / 100
		}
	} else if confidence > 1 {
		confidence = confidence / 100
	}

	return policy.ProposedAction{
		Tool:            toolID,
		Args:            args,
		Reasoning:       reasoningText,
		ModelConfidence: confidence,
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// evaluatePolicy calls the Policy Engine, converting the engine's own
// fatal runtime-assertion panic (§4.1 "Runtime assertions on ALLOW")
// into an InvariantBreachError instead of letting it crash the process,
// per §7 category 7: "the loop aborts the incident, never continues."
func (l *Loop) evaluatePolicy(incidentID string, state *tool.AgentState, action policy.ProposedAction) (decision policy.Decision, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision, reason = policy.Block, ""
			err = &InvariantBreachError{IncidentID: incidentID, Detail: fmt.Sprintf("%v", r)}
		}
	}()
	decision, reason = l.policy.Evaluate(action, state)
	return decision, reason, nil
}

// runApproval implements §4.2 step 4: it blocks on the Approval Gate
// until a decision is delivered or the kill switch activates, treating
// DENIED, EXPIRED, or a kill-switch cancellation identically as BLOCK.
func (l *Loop) runApproval(ctx context.Context, incidentID string, state *tool.AgentState, action policy.ProposedAction, waitReason string) (policy.Decision, string, error) {
	if l.approval == nil {
		// No approval gate wired: WAIT_APPROVAL can never resolve to
		// ALLOW, so the action is blocked rather than silently executed.
		return policy.Block, "approval required but no approval gate configured", nil
	}

	t, _ := l.registry.Current().Get(action.Tool)
	risk := tool.RiskMedium
	if t != nil {
		risk = t.Risk
	}

	approvalCtx, cancel := l.killAware(ctx)
	defer cancel()

	actionData := map[string]any{"tool": action.Tool, "args": action.Args, "reasoning": action.Reasoning}
	approved, requestID, err := l.approval.CheckApproval(approvalCtx, incidentID, actionData, risk, map[string]any{"source": "autonomy_loop"})
	if err != nil {
		return policy.Block, "", fmt.Errorf("autonomy: checking approval: %w", err)
	}
	if approved {
		l.logDecision(incidentID, ledger.EntryApproval, "auto_approved", incidentID, map[string]any{"tool": action.Tool})
		return policy.Allow, waitReason, nil
	}

	if l.killed() {
		return policy.Block, "kill switch active", nil
	}

	req, err := l.approval.WaitForApproval(approvalCtx, requestID, l.approvalPollInterval)
	if err != nil {
		if l.killed() {
			return policy.Block, "kill switch activated during approval wait", nil
		}
		return policy.Block, fmt.Sprintf("approval wait ended without a decision: %v", err), nil
	}
	if req == nil || req.Status != approval.Approved {
		status := "unknown"
		if req != nil {
			status = string(req.Status)
		}
		l.logDecision(incidentID, ledger.EntryApproval, status, incidentID, map[string]any{"tool": action.Tool, "request_id": requestID})
		return policy.Block, fmt.Sprintf("approval %s", status), nil
	}

	l.logDecision(incidentID, ledger.EntryApproval, "approved", incidentID, map[string]any{"tool": action.Tool, "request_id": requestID})
	_ = state // state reserved for future approval-driven confidence adjustments
	return policy.Allow, waitReason, nil
}

// runShadow implements §4.2 step 5: a tool marked shadow-before-prod
// must pass a digital-twin simulation before it is allowed to run for
// real.
func (l *Loop) runShadow(ctx context.Context, action policy.ProposedAction) (passed bool, reason string, err error) {
	if l.shadow == nil {
		return true, "", nil
	}

	shadowCtx, cancel := l.killAware(ctx)
	defer cancel()

	result, err := l.shadow.Simulate(shadowCtx, action.Tool, action.Args)
	if err != nil {
		return false, fmt.Sprintf("shadow simulation failed: %v", err), nil
	}
	if !result.Passed() {
		return false, fmt.Sprintf("shadow simulation scored %s, not success", result.Score.Category), nil
	}
	return true, "", nil
}

// execute implements §4.2 step 6: it always returns an Outcome, turning
// a tool executor's Go error into a synthesized failure Outcome rather
// than propagating it (§6 tool executor contract: "must always return
// an Outcome; never raise for domain errors").
func (l *Loop) execute(ctx context.Context, action policy.ProposedAction) outcome.Outcome {
	execCtx, cancel := l.killAware(ctx)
	defer cancel()

	started := time.Now()
	result, err := l.executor(execCtx, action.Tool, action.Args)
	if err != nil {
		return outcome.Outcome{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMS: time.Since(started).Milliseconds(),
		}
	}
	return result
}

// recordStep appends an EpisodeSnapshot to the Episodic Store and writes
// the matching replay_buffer entry (§4.2 step 7, §6).
func (l *Loop) recordStep(incidentID string, obs Observation, action *policy.ProposedAction, decision policy.Decision, reason string, outcomeData map[string]any) {
	var actionMap map[string]any
	if action != nil {
		actionMap = map[string]any{"tool": action.Tool, "args": action.Args, "reasoning": action.Reasoning, "model_confidence": action.ModelConfidence}
	}

	confidence := 0.0
	if action != nil {
		confidence = action.ModelConfidence
	}

	l.episodic.RecordEpisode(incidentID, obs.Content, map[string]any{"source": obs.Source}, actionMap, string(decision), confidence, outcomeData)

	entry := ReplayEntry{
		IncidentID:     incidentID,
		Timestamp:      time.Now(),
		Observation:    obs,
		Action:         action,
		PolicyDecision: decision,
		Reason:         reason,
		Outcome:        outcomeData,
	}
	filename := fmt.Sprintf("%s_%s.json", incidentID, traceFilenameStamp(entry.Timestamp))
	_ = writeJSONFile(l.replayDir, filename, entry)
}

// CloseIncident closes incidentID's episodic memory with finalOutcome
// and discards its in-process AgentState (§3 AgentState lifecycle:
// "discarded when the incident closes").
func (l *Loop) CloseIncident(incidentID string, finalOutcome episodic.FinalOutcome) (*episodic.Memory, error) {
	mem, err := l.episodic.CloseIncident(incidentID, finalOutcome)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	delete(l.states, incidentID)
	delete(l.incidentLocks, incidentID)
	l.mu.Unlock()
	return mem, nil
}

// ObserveFunc produces the next Observation for run_until_resolved, or
// an error to abort the drive loop.
type ObserveFunc func(ctx context.Context) (Observation, error)

// IsResolvedFunc inspects one step's result and reports whether the
// incident is now resolved.
type IsResolvedFunc func(decision policy.Decision, result *outcome.Outcome) bool

// RunUntilResolved drives run_step repeatedly until isResolved reports
// true, the policy escalates, or the kill switch activates (§4.2
// "run_until_resolved"). It returns true only on resolution.
func (l *Loop) RunUntilResolved(ctx context.Context, incidentID string, observe ObserveFunc, isResolved IsResolvedFunc) (bool, error) {
	for i := 0; i < l.safetyIterationCap; i++ {
		if l.killed() {
			_, _ = l.CloseIncident(incidentID, episodic.Failed)
			return false, nil
		}

		obs, err := observe(ctx)
		if err != nil {
			return false, fmt.Errorf("autonomy: observing incident %s: %w", incidentID, err)
		}

		decision, result, err := l.RunStep(ctx, incidentID, obs)
		if err != nil {
			return false, err
		}

		if isResolved(decision, result) {
			_, err := l.CloseIncident(incidentID, episodic.Resolved)
			return true, err
		}

		if decision == policy.Escalate {
			_, err := l.CloseIncident(incidentID, episodic.Escalated)
			return false, err
		}
	}
	return false, fmt.Errorf("autonomy: incident %s exceeded %d steps without resolving", incidentID, l.safetyIterationCap)
}
