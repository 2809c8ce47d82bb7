// Package exectool implements the tool executor boundary (§6 "tool
// executor contract"): each registered tool is a standalone executable
// under a scripts directory, invoked once per call with its arguments
// as JSON on stdin and a JSON outcome expected back on stdout. The
// shape mirrors the teacher's own stdio MCP transport
// (pkg/mcp/transport.go, exec.CommandContext plus an inherited
// environment) adapted from a long-lived session to a single
// request/response round trip, since the Autonomy Loop calls an
// executor once per step rather than holding a persistent connection.
package exectool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/outcome"
)

// Executor runs tools as subprocesses under a scripts directory.
type Executor struct {
	scriptsDir string
	timeout    time.Duration
}

// New builds an Executor that looks up tool binaries under scriptsDir.
func New(scriptsDir string) *Executor {
	return &Executor{scriptsDir: scriptsDir, timeout: 60 * time.Second}
}

// WithTimeout overrides the per-invocation subprocess timeout.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	e.timeout = d
	return e
}

type scriptResult struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error"`
	SideEffects bool           `json:"side_effects"`
	Data        map[string]any `json:"data"`
}

// Run invokes the executable named toolID, in the shape shadow.Executor
// expects: it never returns a Go error for a domain-level failure,
// wrapping a nonzero exit code or undecodable output into a failed
// Outcome instead (§6: "a tool executor must always return an Outcome").
func (e *Executor) Run(ctx context.Context, toolID string, args map[string]any) (outcome.Outcome, error) {
	started := time.Now()

	payload, err := json.Marshal(args)
	if err != nil {
		return outcome.Outcome{Success: false, Error: fmt.Sprintf("encoding args: %v", err)}, nil
	}

	scriptPath := filepath.Join(e.scriptsDir, toolID)
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, scriptPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(started).Milliseconds()
	if runErr != nil {
		return outcome.Outcome{
			Success:         false,
			Error:           fmt.Sprintf("%v: %s", runErr, stderr.String()),
			ExecutionTimeMS: elapsed,
		}, nil
	}

	var res scriptResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return outcome.Outcome{
			Success:         false,
			Error:           fmt.Sprintf("decoding tool output: %v", err),
			ExecutionTimeMS: elapsed,
		}, nil
	}

	return outcome.Outcome{
		Success:         res.Success,
		Error:           res.Error,
		SideEffects:     res.SideEffects,
		Data:            res.Data,
		ExecutionTimeMS: elapsed,
	}, nil
}
