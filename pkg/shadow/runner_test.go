package shadow

import (
	"context"
	"errors"
	"testing"

	"github.com/codeready-toolchain/opsagent/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatePassesOnSuccessfulOutcome(t *testing.T) {
	var receivedArgs map[string]any
	r := New(func(ctx context.Context, tool string, args map[string]any) (outcome.Outcome, error) {
		receivedArgs = args
		return outcome.Outcome{Success: true, ExecutionTimeMS: 100}, nil
	})

	result, err := r.Simulate(context.Background(), "restart_service", map[string]any{"service": "api"})
	require.NoError(t, err)
	assert.Equal(t, "shadow", receivedArgs["_execution_mode"])
	assert.True(t, result.Outcome.Success)
	assert.True(t, result.Passed())
}

func TestSimulateConvertsExecutorErrorToFailureOutcome(t *testing.T) {
	r := New(func(ctx context.Context, tool string, args map[string]any) (outcome.Outcome, error) {
		return outcome.Outcome{}, errors.New("twin unreachable")
	})

	result, err := r.Simulate(context.Background(), "scale_pod", nil)
	require.NoError(t, err)
	assert.False(t, result.Outcome.Success)
	assert.Equal(t, "twin unreachable", result.Outcome.Error)
	assert.False(t, result.Passed())
}

func TestSimulateAlwaysTearsDownEvenOnExecutorError(t *testing.T) {
	tornDown := false
	r := New(func(ctx context.Context, tool string, args map[string]any) (outcome.Outcome, error) {
		return outcome.Outcome{}, errors.New("boom")
	}).WithLifecycle(
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { tornDown = true; return nil },
	)

	_, err := r.Simulate(context.Background(), "apply_patch", nil)
	require.NoError(t, err)
	assert.True(t, tornDown)
}

func TestSimulatePropagatesProvisionError(t *testing.T) {
	r := New(func(ctx context.Context, tool string, args map[string]any) (outcome.Outcome, error) {
		t.Fatal("executor should not run when provisioning fails")
		return outcome.Outcome{}, nil
	}).WithLifecycle(
		func(ctx context.Context) error { return errors.New("no capacity") },
		func(ctx context.Context) error { return nil },
	)

	_, err := r.Simulate(context.Background(), "rollback_deploy", nil)
	assert.Error(t, err)
}
