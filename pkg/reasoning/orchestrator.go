// Package reasoning implements the Reasoning Orchestrator (§6): a
// stateless router that sends a task to whichever model is configured
// for its task type. Models propose, they never execute or declare
// completion — the orchestrator only ever returns a ModelSink's
// response to the caller, who remains responsible for acting on it
// through the policy engine. The transport to an actual model provider
// is explicitly out of scope (§1), so ModelSink is a plain interface a
// caller wires up however it likes; this mirrors pkg/agent's
// LLMClient/Chunk split without the gRPC plumbing underneath it
// (DOMAIN STACK: grpc/protobuf dropped).
package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Model is the closed set of reasoning backends a task can be routed to
// (§3).
type Model string

const (
	ModelChatGPT Model = "chatgpt"
	ModelGemini  Model = "gemini"
	ModelClaude  Model = "claude"
	ModelLocal   Model = "local"
)

// TaskType is the closed set of reasoning tasks the orchestrator knows
// how to route (§3).
type TaskType string

const (
	TaskRootCauseAnalysis TaskType = "root_cause"
	TaskRiskAssessment    TaskType = "risk_assessment"
	TaskPrioritization    TaskType = "prioritization"
	TaskExplanation       TaskType = "explanation"
	TaskCVELookup         TaskType = "cve_lookup"
	TaskStandardsCheck    TaskType = "standards_check"
	TaskCodeGeneration    TaskType = "code_generation"
	TaskConfigGeneration  TaskType = "config_generation"
	TaskTestGeneration    TaskType = "test_generation"
)

// defaultRouting is the fixed task-type -> model table (§4: "ChatGPT for
// reasoning/prioritization/explanation, Gemini for search/CVEs/external
// context, Claude for code generation"). Any task type not listed here
// falls back to ModelChatGPT.
var defaultRouting = map[TaskType]Model{
	TaskRootCauseAnalysis: ModelChatGPT,
	TaskRiskAssessment:    ModelChatGPT,
	TaskPrioritization:    ModelChatGPT,
	TaskExplanation:       ModelChatGPT,
	TaskCVELookup:         ModelGemini,
	TaskStandardsCheck:    ModelGemini,
	TaskCodeGeneration:    ModelClaude,
	TaskConfigGeneration:  ModelClaude,
	TaskTestGeneration:    ModelClaude,
}

// Request is one reasoning request (§3).
type Request struct {
	ID       string
	TaskType TaskType
	Input    map[string]any
	Context  map[string]any
	OrgID    string
}

// NewRequest builds a Request with a generated ID.
func NewRequest(taskType TaskType, input, context map[string]any, orgID string) Request {
	if context == nil {
		context = map[string]any{}
	}
	return Request{ID: uuid.NewString(), TaskType: taskType, Input: input, Context: context, OrgID: orgID}
}

// Response is a model's answer to a Request (§3).
type Response struct {
	RequestID string         `json:"request_id"`
	ModelUsed Model          `json:"model_used"`
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result"`
	Reasoning string         `json:"reasoning"`
	Confidence float64       `json:"confidence"`
	CreatedAt time.Time      `json:"created_at"`
	Error     string         `json:"error,omitempty"`
}

// ModelSink is what a caller implements to actually reach a model
// provider. The orchestrator never talks to a network itself.
type ModelSink interface {
	Call(ctx context.Context, req Request) (map[string]any, error)
}

// Orchestrator routes Requests to a configured ModelSink per Model and
// records every request it has seen.
type Orchestrator struct {
	mu      sync.Mutex
	sinks   map[Model]ModelSink
	routing map[TaskType]Model
	history []Request
}

// New builds an Orchestrator using the default task routing table.
func New() *Orchestrator {
	routing := make(map[TaskType]Model, len(defaultRouting))
	for k, v := range defaultRouting {
		routing[k] = v
	}
	return &Orchestrator{sinks: make(map[Model]ModelSink), routing: routing}
}

// ConfigureModel registers the sink that should handle model's calls.
func (o *Orchestrator) ConfigureModel(model Model, sink ModelSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks[model] = sink
}

// ModelForTask returns the model a task type routes to, defaulting to
// ModelChatGPT for any task type outside the fixed table.
func (o *Orchestrator) ModelForTask(taskType TaskType) Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.routing[taskType]; ok {
		return m
	}
	return ModelChatGPT
}

// Reason routes req to its model's sink and wraps the result as a
// Response. A missing sink or a sink error produces a failed Response
// rather than a Go error, matching the original's "reasoning never
// raises, it reports" contract — callers that need to distinguish
// infrastructure failure from a model's own refusal inspect
// Response.Error.
func (o *Orchestrator) Reason(ctx context.Context, req Request) Response {
	o.mu.Lock()
	o.history = append(o.history, req)
	model := o.ModelForTaskLocked(req.TaskType)
	sink := o.sinks[model]
	o.mu.Unlock()

	if sink == nil {
		return Response{
			RequestID: req.ID,
			ModelUsed: model,
			Success:   false,
			Result:    map[string]any{},
			CreatedAt: time.Now(),
			Error:     fmt.Sprintf("no model sink configured for %s", model),
		}
	}

	result, err := sink.Call(ctx, req)
	if err != nil {
		return Response{
			RequestID: req.ID,
			ModelUsed: model,
			Success:   false,
			Result:    map[string]any{},
			CreatedAt: time.Now(),
			Error:     err.Error(),
		}
	}

	reasoning, _ := result["reasoning"].(string)
	confidence, ok := result["confidence"].(float64)
	if !ok {
		confidence = 0.8
	}

	return Response{
		RequestID:  req.ID,
		ModelUsed:  model,
		Success:    true,
		Result:     result,
		Reasoning:  reasoning,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
}

// ModelForTaskLocked is ModelForTask without acquiring the mutex, for
// callers that already hold it.
func (o *Orchestrator) ModelForTaskLocked(taskType TaskType) Model {
	if m, ok := o.routing[taskType]; ok {
		return m
	}
	return ModelChatGPT
}

// History returns every request seen so far, oldest first.
func (o *Orchestrator) History() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Request, len(o.history))
	copy(out, o.history)
	return out
}
