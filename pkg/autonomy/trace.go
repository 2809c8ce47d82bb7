package autonomy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/policy"
	"github.com/codeready-toolchain/opsagent/pkg/reasoning"
)

// CognitiveTrace is one record of a reasoning step, written to
// data/cognitive_trace/ before the proposed action is ever handed to the
// Policy Engine, so the model's stated rationale survives even if the
// action is blocked (§4.2 step 2, §6).
type CognitiveTrace struct {
	IncidentID      string                `json:"incident_id"`
	Timestamp       time.Time             `json:"timestamp"`
	TaskType        reasoning.TaskType    `json:"task_type"`
	ModelUsed       reasoning.Model       `json:"model_used"`
	Observation     string                `json:"observation"`
	Reasoning       string                `json:"reasoning"`
	ModelConfidence float64               `json:"model_confidence"`
	Action          policy.ProposedAction `json:"action"`
	ReasoningHash   string                `json:"reasoning_hash"`
}

// ReplayEntry is one persisted step of an incident's execution, written
// to replay_buffer/ regardless of how the step concluded (§6).
type ReplayEntry struct {
	IncidentID     string                 `json:"incident_id"`
	Timestamp      time.Time              `json:"timestamp"`
	Observation    Observation            `json:"observation"`
	Action         *policy.ProposedAction `json:"action,omitempty"`
	PolicyDecision policy.Decision        `json:"policy_decision"`
	Reason         string                 `json:"reason"`
	Outcome        map[string]any         `json:"outcome,omitempty"`
}

// reasoningHash mirrors §4.2 step 2: SHA-256(observation.content ||
// reasoning || canonical(action)). canonical(action) is the JSON
// encoding of the fixed-field ProposedAction struct, which is
// deterministic because struct field order never varies between
// encodings (unlike a map, which would need explicit key sorting).
func reasoningHash(observationContent, reasoningText string, action policy.ProposedAction) (string, error) {
	canonical, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("canonicalizing proposed action: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(observationContent))
	h.Write([]byte(reasoningText))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// traceFilenameStamp formats t as YYYYMMDD_HHMMSS_ffffff, matching §6's
// `data/cognitive_trace/<YYYYMMDD_HHMMSS_ffffff>_<reasoning_hash>.json`
// layout.
func traceFilenameStamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func writeJSONFile(dir, filename string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filename, err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
