package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRejectsInvalidRisk(t *testing.T) {
	_, err := NewRegistry(map[string]Tool{
		"bad_tool": {Risk: RiskLevel("nonsense")},
	})
	assert.Error(t, err)
}

func TestNewRegistryAssignsID(t *testing.T) {
	reg, err := NewRegistry(map[string]Tool{
		"restart_service": {Risk: RiskLow, ProdAllowed: true},
	})
	require.NoError(t, err)

	got, ok := reg.Get("restart_service")
	require.True(t, ok)
	assert.Equal(t, "restart_service", got.ID)
	assert.Equal(t, 1, reg.Len())
}

func TestLiveRegistrySwapIsAtomic(t *testing.T) {
	reg1, _ := NewRegistry(map[string]Tool{"a": {Risk: RiskLow}})
	reg2, _ := NewRegistry(map[string]Tool{"a": {Risk: RiskLow}, "b": {Risk: RiskHigh}})

	live := NewLiveRegistry(reg1)
	assert.Equal(t, 1, live.Current().Len())

	live.Swap(reg2)
	assert.Equal(t, 2, live.Current().Len())
}
