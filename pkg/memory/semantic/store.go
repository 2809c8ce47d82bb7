// Package semantic implements the Semantic Store: abstracted,
// reinforced/decayed knowledge distilled from episodic experience
// (§4.5), plus the Threat DNA peer-exchange format (SUPPLEMENTED
// FEATURES).
package semantic

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

const (
	minConfidence       = 0.10
	maxConfidence       = 0.99
	defaultConfidence   = 0.5
	reinforceAmount     = 0.10
	decayAmount         = 0.05
	sampleWeightCeiling = 10
)

// Fact is a learned semantic fact (§3).
type Fact struct {
	FactID        string         `json:"fact_id"`
	Category      string         `json:"category"`
	Content       string         `json:"content"`
	Confidence    float64        `json:"confidence"`
	EvidenceCount int            `json:"evidence_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Metadata      map[string]any `json:"metadata"`
}

// Reinforce increases confidence by amount, clamped to maxConfidence.
func (f *Fact) Reinforce(amount float64) {
	f.Confidence = min(maxConfidence, f.Confidence+amount)
	f.EvidenceCount++
	f.UpdatedAt = time.Now()
}

// Decay reduces confidence by amount, clamped to minConfidence.
func (f *Fact) Decay(amount float64) {
	f.Confidence = max(minConfidence, f.Confidence-amount)
	f.UpdatedAt = time.Now()
}

// ToolPattern is a learned (tool, context) -> effectiveness association.
type ToolPattern struct {
	Tool          string    `json:"tool"`
	Context       string    `json:"context"`
	Effectiveness float64   `json:"effectiveness"`
	SampleSize    int       `json:"sample_size"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Recommendation is one entry of a GetToolRecommendation result.
type Recommendation struct {
	Tool          string
	Effectiveness float64
	SampleSize    int
}

// Store is the persistent semantic memory store.
type Store struct {
	mu           sync.Mutex
	storagePath  string
	facts        map[string]*Fact
	toolPatterns map[string]*ToolPattern
}

// Open loads (or initializes) a Store rooted at storagePath.
func Open(storagePath string) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating semantic memory dir %s: %w", storagePath, err)
	}
	s := &Store{
		storagePath:  storagePath,
		facts:        make(map[string]*Fact),
		toolPatterns: make(map[string]*ToolPattern),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreFact stores a new fact, or reinforces an existing one with the
// same factID.
func (s *Store) StoreFact(factID, category, content string, confidence float64, metadata map[string]any) (*Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fact, ok := s.facts[factID]; ok {
		fact.Reinforce(reinforceAmount)
	} else {
		if confidence == 0 {
			confidence = defaultConfidence
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		s.facts[factID] = &Fact{
			FactID:        factID,
			Category:      category,
			Content:       content,
			Confidence:    confidence,
			EvidenceCount: 1,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
			Metadata:      metadata,
		}
	}
	return s.facts[factID], s.persist()
}

// LearnToolPattern updates the (tool, context) effectiveness moving
// average from one more observation.
func (s *Store) LearnToolPattern(tool, context string, wasEffective bool) (*ToolPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tool + "|" + context
	observed := 0.0
	if wasEffective {
		observed = 1.0
	}

	p, ok := s.toolPatterns[key]
	if ok {
		oldWeight := float64(p.SampleSize) / float64(p.SampleSize+1)
		newWeight := 1.0 / float64(p.SampleSize+1)
		p.Effectiveness = p.Effectiveness*oldWeight + observed*newWeight
		p.SampleSize++
	} else {
		p = &ToolPattern{Tool: tool, Context: context, Effectiveness: observed, SampleSize: 1}
		s.toolPatterns[key] = p
	}
	p.LastUpdated = time.Now()

	return p, s.persist()
}

// GetToolRecommendation ranks availableTools for context by
// effectiveness weighted by sample size (capped at 10 samples), per
// §4.5. Tools with no recorded pattern default to 0.5 effectiveness,
// sample size 0.
func (s *Store) GetToolRecommendation(context string, availableTools []string) []Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]Recommendation, 0, len(availableTools))
	for _, tool := range availableTools {
		key := tool + "|" + context
		if p, ok := s.toolPatterns[key]; ok {
			recs = append(recs, Recommendation{Tool: tool, Effectiveness: p.Effectiveness, SampleSize: p.SampleSize})
		} else {
			recs = append(recs, Recommendation{Tool: tool, Effectiveness: 0.5, SampleSize: 0})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		wi := recs[i].Effectiveness * min(1, float64(recs[i].SampleSize)/sampleWeightCeiling)
		wj := recs[j].Effectiveness * min(1, float64(recs[j].SampleSize)/sampleWeightCeiling)
		return wi > wj
	})
	return recs
}

// GetFactsByCategory returns every fact in category.
func (s *Store) GetFactsByCategory(category string) []*Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Fact
	for _, f := range s.facts {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// SearchFacts returns facts whose content contains query (case-
// insensitive), sorted by confidence descending.
func (s *Store) SearchFacts(query string) []*Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []*Fact
	for _, f := range s.facts {
		if strings.Contains(strings.ToLower(f.Content), q) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

type factsFile map[string]Fact
type patternsFile map[string]ToolPattern

func (s *Store) persist() error {
	facts := make(factsFile, len(s.facts))
	for id, f := range s.facts {
		facts[id] = *f
	}
	factsData, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling semantic facts: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.storagePath, "facts.json"), factsData, 0o644); err != nil {
		return fmt.Errorf("writing semantic facts: %w", err)
	}

	patterns := make(patternsFile, len(s.toolPatterns))
	for key, p := range s.toolPatterns {
		patterns[key] = *p
	}
	patternsData, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tool patterns: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.storagePath, "tool_patterns.json"), patternsData, 0o644); err != nil {
		return fmt.Errorf("writing tool patterns: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	factsPath := filepath.Join(s.storagePath, "facts.json")
	if data, err := os.ReadFile(factsPath); err == nil {
		var facts factsFile
		if err := json.Unmarshal(data, &facts); err != nil {
			return fmt.Errorf("corrupt semantic facts file: %w", err)
		}
		for id, f := range facts {
			fc := f
			s.facts[id] = &fc
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading semantic facts file: %w", err)
	}

	patternsPath := filepath.Join(s.storagePath, "tool_patterns.json")
	if data, err := os.ReadFile(patternsPath); err == nil {
		var patterns patternsFile
		if err := json.Unmarshal(data, &patterns); err != nil {
			return fmt.Errorf("corrupt tool patterns file: %w", err)
		}
		for key, p := range patterns {
			pc := p
			s.toolPatterns[key] = &pc
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading tool patterns file: %w", err)
	}

	return nil
}
