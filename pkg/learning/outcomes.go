package learning

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FixSource identifies where a fix came from.
type FixSource string

const (
	FixFromPlaybook FixSource = "playbook"
	FixFromLLM      FixSource = "poly_llm"
	FixFromHuman    FixSource = "human"
	FixAutoGenerated FixSource = "auto_generated"
)

const (
	defaultRewardOnSuccess  = 0.02
	defaultPenaltyOnFailure = 0.05
	defaultRegressionPenalty = 0.10
	defaultPlaybookConfidence = 0.5
)

// FixOutcome records the result of one fix attempt, the primary
// learning datum in the system.
type FixOutcome struct {
	OutcomeID          string         `json:"outcome_id"`
	FindingID          string         `json:"finding_id"`
	FindingType        string         `json:"finding_type"`
	PlaybookID         string         `json:"playbook_id,omitempty"`
	FixSource          FixSource      `json:"fix_source"`
	ExecutionContext   map[string]any `json:"execution_context,omitempty"`
	VerificationStatus string         `json:"verification_status"`
	TimeToFixSeconds   float64        `json:"time_to_fix_seconds"`
	RiskReductionScore float64        `json:"risk_reduction_score"`
	RegressionDetected bool           `json:"regression_detected"`
	HumanOverride      bool           `json:"human_override"`
	ExecutedAt         time.Time      `json:"executed_at"`
	VerifiedAt         *time.Time     `json:"verified_at,omitempty"`
}

// IsSuccess reports whether the fix passed verification without a
// regression.
func (o FixOutcome) IsSuccess() bool {
	return o.VerificationStatus == "pass" && !o.RegressionDetected
}

// outcomeStore is a file-backed, append-only log of fix outcomes,
// indexed in memory by finding type and playbook for fast lookup.
type outcomeStore struct {
	mu sync.Mutex

	storagePath  string
	outcomes     map[string]FixOutcome
	byFindingType map[string][]string
	byPlaybook    map[string][]string
}

func newOutcomeStore(storagePath string) (*outcomeStore, error) {
	s := &outcomeStore{
		storagePath:   storagePath,
		outcomes:      make(map[string]FixOutcome),
		byFindingType: make(map[string][]string),
		byPlaybook:    make(map[string][]string),
	}
	if storagePath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *outcomeStore) store(outcome FixOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[outcome.OutcomeID] = outcome
	s.byFindingType[outcome.FindingType] = append(s.byFindingType[outcome.FindingType], outcome.OutcomeID)
	if outcome.PlaybookID != "" {
		s.byPlaybook[outcome.PlaybookID] = append(s.byPlaybook[outcome.PlaybookID], outcome.OutcomeID)
	}

	if s.storagePath == "" {
		return nil
	}
	if err := os.MkdirAll(s.storagePath, 0o755); err != nil {
		return fmt.Errorf("creating outcome storage dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.storagePath, "outcomes.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening outcomes log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome %s: %w", outcome.OutcomeID, err)
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (s *outcomeStore) byFinding(findingType string) []FixOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []FixOutcome
	for _, id := range s.byFindingType[findingType] {
		if o, ok := s.outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *outcomeStore) byPlaybookID(playbookID string) []FixOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []FixOutcome
	for _, id := range s.byPlaybook[playbookID] {
		if o, ok := s.outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *outcomeStore) recent(limit int) []FixOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]FixOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutedAt.After(all[j].ExecutedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (s *outcomeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

func (s *outcomeStore) load() error {
	path := filepath.Join(s.storagePath, "outcomes.jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening outcomes log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var o FixOutcome
		if err := json.Unmarshal(line, &o); err != nil {
			continue
		}
		s.outcomes[o.OutcomeID] = o
		s.byFindingType[o.FindingType] = append(s.byFindingType[o.FindingType], o.OutcomeID)
		if o.PlaybookID != "" {
			s.byPlaybook[o.PlaybookID] = append(s.byPlaybook[o.PlaybookID], o.OutcomeID)
		}
	}
	return scanner.Err()
}

// ConfidenceUpdate records one adjustment to a playbook's learned
// confidence.
type ConfidenceUpdate struct {
	PlaybookID          string
	PreviousConfidence  float64
	NewConfidence       float64
	Delta               float64
	Reason              string
	OutcomeID           string
	Timestamp           time.Time
}

// OutcomeEngine is the learning core: it records fix outcomes, updates
// per-playbook confidence from them, and reports effectiveness and LLM
// reduction metrics.
type OutcomeEngine struct {
	mu sync.Mutex

	store *outcomeStore

	rewardOnSuccess   float64
	penaltyOnFailure  float64
	regressionPenalty float64

	playbookConfidence map[string]float64
	confidenceHistory  []ConfidenceUpdate

	onConfidenceUpdate  func(ConfidenceUpdate)
	onRegressionDetected func(FixOutcome)
}

// NewOutcomeEngine builds an OutcomeEngine, optionally persisting
// outcomes under storagePath.
func NewOutcomeEngine(storagePath string) (*OutcomeEngine, error) {
	store, err := newOutcomeStore(storagePath)
	if err != nil {
		return nil, err
	}
	return &OutcomeEngine{
		store:              store,
		rewardOnSuccess:    defaultRewardOnSuccess,
		penaltyOnFailure:   defaultPenaltyOnFailure,
		regressionPenalty:  defaultRegressionPenalty,
		playbookConfidence: make(map[string]float64),
	}, nil
}

// RecordOutcome stores a fix outcome and, if a playbook produced the
// fix, updates that playbook's learned confidence.
func (e *OutcomeEngine) RecordOutcome(findingID, findingType string, source FixSource, verificationStatus, playbookID string, timeToFixSeconds, riskReduction float64, regressionDetected bool, executionContext map[string]any) (FixOutcome, error) {
	now := time.Now()
	outcome := FixOutcome{
		OutcomeID:          uuid.NewString(),
		FindingID:          findingID,
		FindingType:        findingType,
		PlaybookID:         playbookID,
		FixSource:          source,
		ExecutionContext:   executionContext,
		VerificationStatus: verificationStatus,
		TimeToFixSeconds:   timeToFixSeconds,
		RiskReductionScore: riskReduction,
		RegressionDetected: regressionDetected,
		ExecutedAt:         now,
		VerifiedAt:         &now,
	}

	if err := e.store.store(outcome); err != nil {
		return FixOutcome{}, err
	}

	if playbookID != "" {
		e.updateConfidence(outcome)
	}
	if regressionDetected && e.onRegressionDetected != nil {
		e.onRegressionDetected(outcome)
	}

	return outcome, nil
}

func (e *OutcomeEngine) updateConfidence(outcome FixOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.playbookConfidence[outcome.PlaybookID]
	if !ok {
		current = defaultPlaybookConfidence
	}

	var delta float64
	reason := "successful_fix"
	if outcome.IsSuccess() {
		delta = e.rewardOnSuccess
	} else {
		delta = -e.penaltyOnFailure
		reason = "failed_fix"
		if outcome.RegressionDetected {
			delta -= e.regressionPenalty
			reason = "regression_detected"
		}
	}

	newConfidence := clamp(current+delta, 0.0, 1.0)
	e.playbookConfidence[outcome.PlaybookID] = newConfidence

	update := ConfidenceUpdate{
		PlaybookID:         outcome.PlaybookID,
		PreviousConfidence: current,
		NewConfidence:      newConfidence,
		Delta:              delta,
		Reason:             reason,
		OutcomeID:          outcome.OutcomeID,
		Timestamp:          time.Now(),
	}
	e.confidenceHistory = append(e.confidenceHistory, update)

	if e.onConfidenceUpdate != nil {
		e.onConfidenceUpdate(update)
	}
}

// GetPlaybookConfidence returns the learned confidence for playbookID,
// defaulting to 0.5 absent any outcomes.
func (e *OutcomeEngine) GetPlaybookConfidence(playbookID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.playbookConfidence[playbookID]; ok {
		return c
	}
	return defaultPlaybookConfidence
}

// SetPlaybookConfidence seeds or overrides a playbook's confidence.
func (e *OutcomeEngine) SetPlaybookConfidence(playbookID string, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playbookConfidence[playbookID] = clamp(confidence, 0.0, 1.0)
}

// EffectivenessStats summarizes outcomes for a finding type.
type EffectivenessStats struct {
	FindingType    string
	TotalFixes     int
	SuccessfulFixes int
	SuccessRate    float64
	PlaybookFixes  int
	LLMFixes       int
	Regressions    int
	AvgTimeToFix   float64
	DataAvailable  bool
}

// GetEffectivenessStats aggregates learning about what works for a
// finding type.
func (e *OutcomeEngine) GetEffectivenessStats(findingType string) EffectivenessStats {
	outcomes := e.store.byFinding(findingType)
	if len(outcomes) == 0 {
		return EffectivenessStats{FindingType: findingType}
	}

	stats := EffectivenessStats{FindingType: findingType, TotalFixes: len(outcomes), DataAvailable: true}
	var fixTimes []float64
	for _, o := range outcomes {
		if o.IsSuccess() {
			stats.SuccessfulFixes++
		}
		switch o.FixSource {
		case FixFromPlaybook:
			stats.PlaybookFixes++
		case FixFromLLM:
			stats.LLMFixes++
		}
		if o.RegressionDetected {
			stats.Regressions++
		}
		if o.TimeToFixSeconds > 0 {
			fixTimes = append(fixTimes, o.TimeToFixSeconds)
		}
	}
	stats.SuccessRate = float64(stats.SuccessfulFixes) / float64(stats.TotalFixes)
	stats.AvgTimeToFix = mean(fixTimes)
	return stats
}

// PlaybookStats summarizes outcomes for a single playbook.
type PlaybookStats struct {
	PlaybookID      string
	TotalUses       int
	SuccessfulFixes int
	FailedFixes     int
	SuccessRate     float64
	Regressions     int
	Confidence      float64
	LastUsed        *time.Time
}

// GetPlaybookStats summarizes a playbook's recorded outcomes.
func (e *OutcomeEngine) GetPlaybookStats(playbookID string) PlaybookStats {
	outcomes := e.store.byPlaybookID(playbookID)
	stats := PlaybookStats{PlaybookID: playbookID, Confidence: e.GetPlaybookConfidence(playbookID)}
	if len(outcomes) == 0 {
		return stats
	}

	stats.TotalUses = len(outcomes)
	var lastUsed time.Time
	for _, o := range outcomes {
		if o.IsSuccess() {
			stats.SuccessfulFixes++
		}
		if o.RegressionDetected {
			stats.Regressions++
		}
		if o.ExecutedAt.After(lastUsed) {
			lastUsed = o.ExecutedAt
		}
	}
	stats.FailedFixes = stats.TotalUses - stats.SuccessfulFixes
	stats.SuccessRate = float64(stats.SuccessfulFixes) / float64(stats.TotalUses)
	stats.LastUsed = &lastUsed
	return stats
}

// LLMReductionMetrics compares the LLM dependency ratio in the last 30
// days against everything older.
type LLMReductionMetrics struct {
	TotalFixes           int
	RecentLLMRatio       float64
	OlderLLMRatio        float64
	LLMReductionPercent  float64
	PlaybookAdoptionRate float64
	DataAvailable        bool
}

// GetLLMReductionMetrics reports how much learning has reduced LLM
// dependency over time.
func (e *OutcomeEngine) GetLLMReductionMetrics() LLMReductionMetrics {
	all := e.store.recent(1000)
	if len(all) == 0 {
		return LLMReductionMetrics{}
	}

	now := time.Now()
	var recent, older []FixOutcome
	for _, o := range all {
		if now.Sub(o.ExecutedAt) < 30*24*time.Hour {
			recent = append(recent, o)
		} else {
			older = append(older, o)
		}
	}

	recentRatio := llmRatio(recent)
	olderRatio := llmRatio(older)

	var reduction float64
	if olderRatio > 0 {
		reduction = (olderRatio - recentRatio) / olderRatio
	}

	return LLMReductionMetrics{
		TotalFixes:           len(all),
		RecentLLMRatio:       recentRatio,
		OlderLLMRatio:        olderRatio,
		LLMReductionPercent:  reduction * 100,
		PlaybookAdoptionRate: 1 - recentRatio,
		DataAvailable:        true,
	}
}

func llmRatio(outcomes []FixOutcome) float64 {
	if len(outcomes) == 0 {
		return 1.0
	}
	var llm int
	for _, o := range outcomes {
		if o.FixSource == FixFromLLM {
			llm++
		}
	}
	return float64(llm) / float64(len(outcomes))
}

// ShouldUsePlaybook decides whether playbookID's learned confidence is
// high enough to use directly instead of falling back to the LLM.
func (e *OutcomeEngine) ShouldUsePlaybook(playbookID string, minConfidence float64) (bool, float64, string) {
	confidence := e.GetPlaybookConfidence(playbookID)
	switch {
	case confidence >= minConfidence:
		return true, confidence, "confidence_sufficient"
	case confidence >= minConfidence*0.8:
		return false, confidence, "confidence_marginal_use_llm"
	default:
		return false, confidence, "confidence_low_use_llm"
	}
}

// OutcomeCount returns how many outcomes have been recorded, used by
// export/maturity reporting.
func (e *OutcomeEngine) OutcomeCount() int {
	return e.store.count()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
