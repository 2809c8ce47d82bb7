package episodic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEpisodeStartsIncidentImplicitly(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ep := s.RecordEpisode("incident-1", "disk full on host-1", map[string]any{"host": "host-1"}, nil, "allow", 0.9, nil)
	assert.Equal(t, "incident-1_000", ep.EpisodeID)

	m, err := s.GetIncident("incident-1")
	require.NoError(t, err)
	assert.Len(t, m.Episodes, 1)
}

func TestCloseIncidentPersistsAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	s.RecordEpisode("incident-1", "obs", nil, map[string]any{"tool": "restart_service"}, "allow", 0.9, map[string]any{"success": true})
	m, err := s.CloseIncident("incident-1", Resolved)
	require.NoError(t, err)
	require.NotNil(t, m)
	firstResolvedAt := m.ResolvedAt

	m2, err := s.CloseIncident("incident-1", Escalated)
	require.NoError(t, err)
	assert.Equal(t, Resolved, m2.FinalOutcome)
	assert.Equal(t, firstResolvedAt, m2.ResolvedAt)
}

func TestGetIncidentFallsBackToDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	s1.RecordEpisode("incident-1", "obs", nil, nil, "allow", 0.5, nil)
	_, err = s1.CloseIncident("incident-1", Resolved)
	require.NoError(t, err)

	s2, err := Open(dir)
	require.NoError(t, err)
	m, err := s2.GetIncident("incident-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "incident-1", m.IncidentID)
}

func TestFindSimilarRanksByWordOverlap(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	s.RecordEpisode("incident-1", "disk full on host-1 in production", nil, nil, "", 0, nil)
	_, err = s.CloseIncident("incident-1", Resolved)
	require.NoError(t, err)

	s.RecordEpisode("incident-2", "network latency spike", nil, nil, "", 0, nil)
	_, err = s.CloseIncident("incident-2", Resolved)
	require.NoError(t, err)

	got, err := s.FindSimilar("disk full alert on host-1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "incident-1", got[0].IncidentID)
}
