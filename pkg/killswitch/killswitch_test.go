package killswitch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSwitchStartsInactive(t *testing.T) {
	s := New()
	assert.False(t, s.IsActive())
}

func TestActivateIsMonotonic(t *testing.T) {
	s := New()
	s.Activate(context.Background())
	assert.True(t, s.IsActive())

	s.Activate(context.Background()) // second activation is a no-op, not an error
	assert.True(t, s.IsActive())
}

func TestResetClearsTheFlag(t *testing.T) {
	s := New()
	s.Activate(context.Background())
	require := assert.New(t)
	require.True(s.IsActive())

	s.Reset()
	require.False(s.IsActive())
}

func TestCloseWithNoRedisIsSafe(t *testing.T) {
	s := New()
	s.Close() // no subscription was ever started; must not panic
}
