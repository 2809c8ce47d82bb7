// Package episodic implements the Episodic Store: append-only, per-
// incident structured memory persisted as one JSON file per incident
// under data/episodic_memory/ (§4.5, §6).
package episodic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Snapshot is one recorded step of an incident (§3 EpisodeSnapshot).
type Snapshot struct {
	EpisodeID      string         `json:"episode_id"`
	IncidentID     string         `json:"incident_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Observation    string         `json:"observation"`
	SystemState    map[string]any `json:"system_state"`
	ActionTaken    map[string]any `json:"action_taken,omitempty"`
	PolicyDecision string         `json:"policy_decision"`
	Confidence     float64        `json:"confidence"`
	Outcome        map[string]any `json:"outcome,omitempty"`
	PriorEpisodes  []string       `json:"prior_episodes"`
}

// FinalOutcome is the closed set of ways an incident can end (§3 IncidentMemory).
type FinalOutcome string

const (
	Resolved  FinalOutcome = "resolved"
	Escalated FinalOutcome = "escalated"
	Failed    FinalOutcome = "failed"
)

// Memory is the complete record of one incident (§3 IncidentMemory).
// Invariant: Episodes only ever grows (monotonic append); Close is
// idempotent.
type Memory struct {
	IncidentID             string       `json:"incident_id"`
	StartedAt              time.Time    `json:"started_at"`
	ResolvedAt             *time.Time   `json:"resolved_at,omitempty"`
	Episodes               []Snapshot   `json:"episodes"`
	FinalOutcome           FinalOutcome `json:"final_outcome"`
	ResolutionTimeSeconds  int          `json:"resolution_time_seconds"`
	ActionsTaken           int          `json:"actions_taken"`
	SuccessfulActions      int          `json:"successful_actions"`
}

func (m *Memory) addEpisode(e Snapshot) {
	m.Episodes = append(m.Episodes, e)
	if e.ActionTaken != nil {
		m.ActionsTaken++
	}
	if e.Outcome != nil {
		if success, _ := e.Outcome["success"].(bool); success {
			m.SuccessfulActions++
		}
	}
}

// Close sets resolved_at and final_outcome. Calling Close more than once
// is a no-op (§3 invariant: "close operation is idempotent").
func (m *Memory) Close(outcome FinalOutcome) {
	if m.ResolvedAt != nil {
		return
	}
	now := time.Now()
	m.ResolvedAt = &now
	m.FinalOutcome = outcome
	m.ResolutionTimeSeconds = int(now.Sub(m.StartedAt).Seconds())
}

const cacheLimit = 100

// Store is the persistent episodic memory store: a bounded in-memory
// cache of open/recent incidents backed by one JSON file per incident on
// disk. Disk is authoritative; the cache only bounds memory use.
type Store struct {
	mu          sync.Mutex
	storagePath string
	cache       map[string]*Memory
}

// Open returns a Store rooted at storagePath, creating the directory if
// it does not exist.
func Open(storagePath string) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating episodic memory dir %s: %w", storagePath, err)
	}
	return &Store{storagePath: storagePath, cache: make(map[string]*Memory)}, nil
}

// StartIncident begins tracking a new incident.
func (s *Store) StartIncident(incidentID string) *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Memory{IncidentID: incidentID, StartedAt: time.Now()}
	s.cache[incidentID] = m
	return m
}

// RecordEpisode appends a new Snapshot to incidentID's memory, starting
// the incident first if it isn't already tracked.
func (s *Store) RecordEpisode(incidentID, observation string, systemState map[string]any, action map[string]any, policyDecision string, confidence float64, outcome map[string]any) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.cache[incidentID]
	if !ok {
		m = &Memory{IncidentID: incidentID, StartedAt: time.Now()}
		s.cache[incidentID] = m
	}

	prior := priorEpisodeIDs(m.Episodes, 3)
	ep := Snapshot{
		EpisodeID:      fmt.Sprintf("%s_%03d", incidentID, len(m.Episodes)),
		IncidentID:     incidentID,
		Timestamp:      time.Now(),
		Observation:    observation,
		SystemState:    systemState,
		ActionTaken:    action,
		PolicyDecision: policyDecision,
		Confidence:     confidence,
		Outcome:        outcome,
		PriorEpisodes:  prior,
	}
	m.addEpisode(ep)
	return ep
}

func priorEpisodeIDs(episodes []Snapshot, n int) []string {
	start := len(episodes) - n
	if start < 0 {
		start = 0
	}
	ids := make([]string, 0, len(episodes)-start)
	for _, e := range episodes[start:] {
		ids = append(ids, e.EpisodeID)
	}
	return ids
}

// CloseIncident closes and persists incidentID's memory, then evicts the
// oldest cached incident if the cache is over its limit.
func (s *Store) CloseIncident(incidentID string, outcome FinalOutcome) (*Memory, error) {
	s.mu.Lock()
	m, ok := s.cache[incidentID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	m.Close(outcome)
	if err := s.persist(m); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.cache) > cacheLimit {
		var oldestID string
		var oldestAt time.Time
		first := true
		for id, cm := range s.cache {
			if first || cm.StartedAt.Before(oldestAt) {
				oldestID, oldestAt, first = id, cm.StartedAt, false
			}
		}
		if oldestID != "" {
			delete(s.cache, oldestID)
		}
	}
	s.mu.Unlock()

	return m, nil
}

// GetIncident returns incidentID's memory from cache, falling back to
// disk.
func (s *Store) GetIncident(incidentID string) (*Memory, error) {
	s.mu.Lock()
	m, ok := s.cache[incidentID]
	s.mu.Unlock()
	if ok {
		return m, nil
	}
	return s.load(incidentID)
}

// ListByOutcome returns every persisted incident whose final outcome
// matches outcome, for batch consumers like the knowledge distiller that
// need to scan the whole store rather than one incident at a time.
func (s *Store) ListByOutcome(outcome FinalOutcome) ([]*Memory, error) {
	entries, err := os.ReadDir(s.storagePath)
	if err != nil {
		return nil, fmt.Errorf("listing episodic memory dir: %w", err)
	}

	var out []*Memory
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m, err := s.loadFile(filepath.Join(s.storagePath, entry.Name()))
		if err != nil || m == nil {
			continue
		}
		if m.FinalOutcome == outcome {
			out = append(out, m)
		}
	}
	return out, nil
}

// FindSimilar finds past incidents whose episode observations share the
// most words with observation, using plain word-set overlap (§4.5:
// "vector search out of scope").
func (s *Store) FindSimilar(observation string, limit int) ([]*Memory, error) {
	obsWords := wordSet(observation)

	entries, err := os.ReadDir(s.storagePath)
	if err != nil {
		return nil, fmt.Errorf("listing episodic memory dir: %w", err)
	}

	type scored struct {
		overlap int
		memory  *Memory
	}
	var candidates []scored

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m, err := s.loadFile(filepath.Join(s.storagePath, entry.Name()))
		if err != nil || m == nil || len(m.Episodes) == 0 {
			continue
		}
		memWords := map[string]struct{}{}
		for _, ep := range m.Episodes {
			for w := range wordSet(ep.Observation) {
				memWords[w] = struct{}{}
			}
		}
		overlap := 0
		for w := range obsWords {
			if _, ok := memWords[w]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			candidates = append(candidates, scored{overlap, m})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].overlap > candidates[j].overlap })

	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]*Memory, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.memory)
	}
	return out, nil
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func (s *Store) persist(m *Memory) error {
	path := filepath.Join(s.storagePath, m.IncidentID+".json")
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling incident memory %s: %w", m.IncidentID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing incident memory %s: %w", m.IncidentID, err)
	}
	return nil
}

func (s *Store) load(incidentID string) (*Memory, error) {
	return s.loadFile(filepath.Join(s.storagePath, incidentID+".json"))
}

func (s *Store) loadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt incident memory %s: %w", path, err)
	}
	return &m, nil
}
