// Package mutation implements the adaptive retry strategy run after a
// tool failure: the Mutation Engine (§4.4).
package mutation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/opsagent/pkg/failure"
)

// ModelFunc asks a model to propose corrected arguments for a failed
// validation error; it returns the model's raw text response. The model
// backend is intentionally opaque here (§4.1's ModelSink boundary).
type ModelFunc func(prompt string) (string, error)

// Result is the Mutation Engine's suggestion for the next attempt.
type Result struct {
	ShouldRetry bool
	NewArgs     map[string]any
	Strategy    string // "simple_retry", "timeout_increase", "model_correction", "none"
	Reason      string
}

// Engine proposes a new action after a tool failure, by classifying the
// error and applying the §4.4 mutation strategies in order.
type Engine struct {
	classifier *failure.Classifier
}

// NewEngine returns an Engine backed by classifier.
func NewEngine(classifier *failure.Classifier) *Engine {
	return &Engine{classifier: classifier}
}

// Mutate suggests the next action for tool after it failed with error on
// attempt, given originalArgs. model is optional; when nil, validation
// failures fall through to "no mutation strategy found".
func (e *Engine) Mutate(originalArgs map[string]any, errText string, attempt int, model ModelFunc) Result {
	classification := e.classifier.Classify(errText, failure.Context{})

	if !classification.IsRecoverable && attempt > 1 {
		return Result{ShouldRetry: false, Strategy: "none", Reason: "failure classified as non-recoverable"}
	}

	shouldRetryBasic := e.classifier.ShouldRetry(classification, attempt)

	switch classification.Type {
	case failure.Timeout, failure.Transient:
		if !shouldRetryBasic {
			return Result{ShouldRetry: false, Strategy: "none", Reason: "max retries reached for " + string(classification.Type)}
		}

		newArgs := cloneArgs(originalArgs)
		if classification.Type == failure.Timeout {
			if raw, ok := newArgs["timeout"]; ok {
				if current, ok := toInt(raw); ok {
					newArgs["timeout"] = current * 2
					return Result{ShouldRetry: true, NewArgs: newArgs, Strategy: "timeout_increase", Reason: "increased timeout due to timeout failure"}
				}
			}
		}

		return Result{ShouldRetry: true, NewArgs: originalArgs, Strategy: "simple_retry", Reason: "transient failure, retrying"}

	case failure.Validation:
		if model != nil {
			prompt := buildCorrectionPrompt(errText, originalArgs)
			response, err := model(prompt)
			if err == nil {
				if newArgs, ok := extractJSON(response); ok {
					return Result{ShouldRetry: true, NewArgs: newArgs, Strategy: "model_correction", Reason: "model suggested parameter fix"}
				}
			}
		}
	}

	return Result{ShouldRetry: false, Strategy: "none", Reason: "no mutation strategy found"}
}

func buildCorrectionPrompt(errText string, args map[string]any) string {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	var b strings.Builder
	b.WriteString("The tool invocation failed with the following error:\n")
	b.WriteString(errText)
	b.WriteString("\n\nThe arguments used were:\n")
	b.Write(argsJSON)
	b.WriteString("\n\nCorrect the arguments to fix the error. Return ONLY the JSON of the new arguments.")
	return b.String()
}

var jsonFenceRe = regexp.MustCompile("(?s)```json(.*?)```")

// extractJSON mirrors the original _extract_json: try raw text, then a
// ```json fenced block, then the span between the first "{" and last "}".
func extractJSON(text string) (map[string]any, bool) {
	if m, ok := tryUnmarshal(text); ok {
		return m, true
	}

	if match := jsonFenceRe.FindStringSubmatch(text); match != nil {
		if m, ok := tryUnmarshal(strings.TrimSpace(match[1])); ok {
			return m, true
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		if m, ok := tryUnmarshal(text[start : end+1]); ok {
			return m, true
		}
	}

	return nil, false
}

func tryUnmarshal(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

func cloneArgs(args map[string]any) map[string]any {
	clone := make(map[string]any, len(args))
	for k, v := range args {
		clone[k] = v
	}
	return clone
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
