package exectool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestRunParsesSuccessfulScriptOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "restart_service", "#!/bin/sh\ncat <<'EOF'\n{\"success\":true,\"side_effects\":true,\"data\":{\"restarted\":1}}\nEOF\n")

	e := New(dir)
	o, err := e.Run(context.Background(), "restart_service", map[string]any{"service": "api"})
	require.NoError(t, err)
	assert.True(t, o.Success)
	assert.True(t, o.SideEffects)
}

func TestRunReportsFailureWithoutGoError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken_tool", "#!/bin/sh\necho 'not json'\nexit 0\n")

	e := New(dir)
	o, err := e.Run(context.Background(), "broken_tool", nil)
	require.NoError(t, err)
	assert.False(t, o.Success)
	assert.NotEmpty(t, o.Error)
}

func TestRunReportsNonzeroExitAsFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "failing_tool", "#!/bin/sh\necho 'boom' >&2\nexit 1\n")

	e := New(dir)
	o, err := e.Run(context.Background(), "failing_tool", nil)
	require.NoError(t, err)
	assert.False(t, o.Success)
	assert.Contains(t, o.Error, "boom")
}

func TestRunMissingScriptIsFailureNotError(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	o, err := e.Run(context.Background(), "nonexistent", nil)
	require.NoError(t, err)
	assert.False(t, o.Success)
}
