package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFactReinforcesExisting(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	f1, err := s.StoreFact("magic_tool-effective", "tool_effectiveness", "magic_tool is highly effective", 0.6, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f1.EvidenceCount)

	f2, err := s.StoreFact("magic_tool-effective", "tool_effectiveness", "ignored on reinforce", 0.9, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f2.EvidenceCount)
	assert.InDelta(t, 0.7, f2.Confidence, 1e-9)
}

func TestFactConfidenceClampsAtBounds(t *testing.T) {
	f := &Fact{Confidence: 0.95}
	f.Reinforce(0.5)
	assert.Equal(t, maxConfidence, f.Confidence)

	f.Confidence = 0.12
	f.Decay(0.5)
	assert.Equal(t, minConfidence, f.Confidence)
}

func TestLearnToolPatternMovingAverage(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	p, err := s.LearnToolPattern("restart_service", "timeout", true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Effectiveness)

	p, err = s.LearnToolPattern("restart_service", "timeout", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.Effectiveness, 1e-9)
	assert.Equal(t, 2, p.SampleSize)
}

func TestGetToolRecommendationRanksByWeightedEffectiveness(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := s.LearnToolPattern("a", "ctx", true)
		require.NoError(t, err)
	}
	_, err = s.LearnToolPattern("b", "ctx", true)
	require.NoError(t, err)

	recs := s.GetToolRecommendation("ctx", []string{"a", "b", "c"})
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].Tool)
}

func TestThreatDNAExportImportReinforcesMatchingFacts(t *testing.T) {
	src, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = src.StoreFact("fact-1", "pattern", "after X, consider Y", 0.6, nil)
	require.NoError(t, err)

	dna := src.Export("instance-a", nil)
	require.Len(t, dna.Facts, 1)

	dst, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, dst.Import(dna))

	got := dst.GetFactsByCategory("pattern")
	require.Len(t, got, 1)
	assert.Equal(t, "fact-1", got[0].FactID)

	require.NoError(t, dst.Import(dna))
	got = dst.GetFactsByCategory("pattern")
	assert.Equal(t, 2, got[0].EvidenceCount)
}
