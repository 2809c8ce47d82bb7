package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/opsagent/pkg/failure"
)

func newTestEngine() *Engine {
	return NewEngine(failure.NewClassifier())
}

func TestMutateTimeoutDoublesTimeoutArg(t *testing.T) {
	e := newTestEngine()
	res := e.Mutate(map[string]any{"timeout": 30}, "operation timed out", 1, nil)
	require.True(t, res.ShouldRetry)
	assert.Equal(t, "timeout_increase", res.Strategy)
	assert.Equal(t, 60, res.NewArgs["timeout"])
}

func TestMutateTransientRetriesUnchanged(t *testing.T) {
	e := newTestEngine()
	res := e.Mutate(map[string]any{"host": "x"}, "connection refused", 1, nil)
	require.True(t, res.ShouldRetry)
	assert.Equal(t, "simple_retry", res.Strategy)
}

func TestMutateStopsAfterMaxRetries(t *testing.T) {
	e := newTestEngine()
	res := e.Mutate(map[string]any{}, "connection refused", 3, nil)
	assert.False(t, res.ShouldRetry)
}

func TestMutateValidationWithoutModelDoesNotRetry(t *testing.T) {
	e := newTestEngine()
	res := e.Mutate(map[string]any{"x": 1}, "invalid request: bad field", 1, nil)
	assert.False(t, res.ShouldRetry)
	assert.Equal(t, "no mutation strategy found", res.Reason)
}

func TestMutateValidationWithModelAppliesCorrection(t *testing.T) {
	e := newTestEngine()
	model := func(prompt string) (string, error) {
		return "```json\n{\"x\": 2}\n```", nil
	}
	res := e.Mutate(map[string]any{"x": 1}, "invalid request: bad field", 1, model)
	require.True(t, res.ShouldRetry)
	assert.Equal(t, "model_correction", res.Strategy)
	assert.Equal(t, float64(2), res.NewArgs["x"])
}

func TestExtractJSONFromRawFencedAndBraceSpan(t *testing.T) {
	m, ok := extractJSON(`{"a": 1}`)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])

	m, ok = extractJSON("```json\n{\"b\": 2}\n```")
	require.True(t, ok)
	assert.Equal(t, float64(2), m["b"])

	m, ok = extractJSON("here is the fix: {\"c\": 3} thanks")
	require.True(t, ok)
	assert.Equal(t, float64(3), m["c"])

	_, ok = extractJSON("no json here")
	assert.False(t, ok)
}
