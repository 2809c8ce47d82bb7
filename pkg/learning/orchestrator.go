package learning

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/playbook"
	"github.com/google/uuid"
)

// FixDecision is the routing decision the orchestrator made for one
// finding.
type FixDecision string

const (
	DecisionUsePlaybook           FixDecision = "use_playbook"
	DecisionUsePlaybookWithReview FixDecision = "use_playbook_with_review"
	DecisionUseLLM                FixDecision = "use_llm"
	DecisionSkipNoise             FixDecision = "skip_noise"
)

const defaultEstimatedLLMCostPerCall = 0.05

// LoopResult is the full record of one pass through the learning loop,
// from signal evaluation through learning (§4.10).
type LoopResult struct {
	LoopID      string
	FindingID   string
	FindingType string

	SignalProcessed      bool
	SignalClassification SignalValue

	FixDecision  FixDecision
	PlaybookUsed string
	LLMUsed      bool

	FixApplied         bool
	VerificationPassed bool

	LearningRecorded  bool
	ConfidenceUpdated bool

	TotalTimeSeconds float64
	LLMCostSaved     float64

	StartedAt   time.Time
	CompletedAt *time.Time
}

// Orchestrator coordinates the self-evolving workflow: filter noise,
// check the playbook engine, decide a path, then learn from the
// verified outcome (§4.10).
type Orchestrator struct {
	mu sync.Mutex

	outcomeEngine  *OutcomeEngine
	playbookEngine *playbook.Engine
	policyLearner  *PolicyLearner

	estimatedLLMCostPerCall float64

	loopHistory   []*LoopResult
	llmCallsSaved int
	totalCostSaved float64

	onPlaybookUsed   func(playbookID, findingType string)
	onLLMFallback    func(findingType, reason string)
	onNoiseSuppressed func(findingType string)
}

// NewOrchestrator wires an Orchestrator to the given components.
func NewOrchestrator(outcomeEngine *OutcomeEngine, playbookEngine *playbook.Engine, policyLearner *PolicyLearner) *Orchestrator {
	return &Orchestrator{
		outcomeEngine:           outcomeEngine,
		playbookEngine:          playbookEngine,
		policyLearner:           policyLearner,
		estimatedLLMCostPerCall: defaultEstimatedLLMCostPerCall,
	}
}

// ProcessFinding runs a finding through the complete learning loop:
// noise filtering, playbook matching, and decision routing. llmCallback,
// if provided, is invoked when the decision falls back to the LLM.
func (o *Orchestrator) ProcessFinding(findingID, findingType string, context map[string]string, llmCallback func(findingType string) (string, error)) *LoopResult {
	result := &LoopResult{
		LoopID:      uuid.NewString(),
		FindingID:   findingID,
		FindingType: findingType,
		StartedAt:   time.Now(),
	}

	shouldProcess, classification, _ := o.policyLearner.EvaluateSignal("finding", findingType, context["source"])
	result.SignalClassification = classification

	if !shouldProcess {
		result.SignalProcessed = false
		result.FixDecision = DecisionSkipNoise
		now := time.Now()
		result.CompletedAt = &now
		if o.onNoiseSuppressed != nil {
			o.onNoiseSuppressed(findingType)
		}
		o.appendHistory(result)
		return result
	}
	result.SignalProcessed = true

	decision, pb, reason := o.playbookEngine.GetFixDecision(findingType, context)

	switch decision {
	case playbook.DecisionUsePlaybook:
		result.FixDecision = DecisionUsePlaybook
		result.PlaybookUsed = pb.PlaybookID
		result.LLMUsed = false

		o.mu.Lock()
		o.llmCallsSaved++
		result.LLMCostSaved = o.estimatedLLMCostPerCall
		o.totalCostSaved += result.LLMCostSaved
		o.mu.Unlock()

		if o.onPlaybookUsed != nil {
			o.onPlaybookUsed(pb.PlaybookID, findingType)
		}

	case playbook.DecisionUsePlaybookWithReview:
		result.FixDecision = DecisionUsePlaybookWithReview
		result.PlaybookUsed = pb.PlaybookID
		result.LLMUsed = false

	default:
		result.FixDecision = DecisionUseLLM
		result.LLMUsed = true

		if o.onLLMFallback != nil {
			o.onLLMFallback(findingType, reason)
		}
		if llmCallback != nil {
			_, _ = llmCallback(findingType)
		}
	}

	result.FixApplied = true
	o.appendHistory(result)
	return result
}

func (o *Orchestrator) appendHistory(r *LoopResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loopHistory = append(o.loopHistory, r)
}

func (o *Orchestrator) findLoop(loopID string) *LoopResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.loopHistory {
		if r.LoopID == loopID {
			return r
		}
	}
	return nil
}

// RecordVerification records a loop's verification result and triggers
// learning across the outcome engine, playbook confidence, and policy
// learner (§4.10 steps (d)-(e)).
func (o *Orchestrator) RecordVerification(loopID string, verificationPassed, regressionDetected bool, timeToResolution, riskReduction float64) error {
	loopResult := o.findLoop(loopID)
	if loopResult == nil {
		return nil
	}

	o.mu.Lock()
	loopResult.VerificationPassed = verificationPassed
	now := time.Now()
	loopResult.CompletedAt = &now
	loopResult.TotalTimeSeconds = timeToResolution
	o.mu.Unlock()

	source := FixFromLLM
	if loopResult.PlaybookUsed != "" {
		source = FixFromPlaybook
	}

	status := "fail"
	if verificationPassed {
		status = "pass"
	}

	_, err := o.outcomeEngine.RecordOutcome(loopResult.FindingID, loopResult.FindingType, source, status, loopResult.PlaybookUsed, timeToResolution, riskReduction, regressionDetected, nil)
	if err != nil {
		return err
	}

	if loopResult.PlaybookUsed != "" {
		confidence := o.outcomeEngine.GetPlaybookConfidence(loopResult.PlaybookUsed)
		if err := o.playbookEngine.UpdateConfidence(loopResult.PlaybookUsed, confidence); err != nil {
			return err
		}
		o.mu.Lock()
		loopResult.ConfidenceUpdated = true
		o.mu.Unlock()
	}

	o.policyLearner.RecordSignalOutcome("finding", loopResult.FindingType, "", true, !verificationPassed)

	o.mu.Lock()
	loopResult.LearningRecorded = true
	o.mu.Unlock()

	return nil
}

// CreatePlaybookFromSuccess mints a playbook from a verified LLM fix,
// the mechanism by which the system evolves away from LLM dependency.
func (o *Orchestrator) CreatePlaybookFromSuccess(loopID, fixDescription, fixTemplate string) (*playbook.FixPlaybook, error) {
	loopResult := o.findLoop(loopID)
	if loopResult == nil || !loopResult.VerificationPassed || !loopResult.LLMUsed {
		return nil, nil
	}

	p, err := o.playbookEngine.CreatePlaybookFromLLMFix(loopResult.FindingType, "auto_detected", "auto_detected", fixDescription, fixTemplate)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SystemIntelligence reports how the system is learning and reducing
// LLM dependency.
type SystemIntelligence struct {
	TotalLoopsProcessed   int
	PlaybookUsageRate     float64
	NoiseSuppressionRate  float64
	LLMCallsSaved         int
	TotalCostSaved        float64
	Playbooks             playbook.Stats
	LLMReduction          LLMReductionMetrics
	NoiseReduction        NoiseReductionStats
	PoliciesLearned       LearningStats
	Maturity              Maturity
}

// Maturity reports the system's progress away from LLM dependency.
type Maturity struct {
	Score       float64
	Level       string
	Description string
}

// GetSystemIntelligence computes a full intelligence report.
func (o *Orchestrator) GetSystemIntelligence() SystemIntelligence {
	o.mu.Lock()
	totalLoops := len(o.loopHistory)
	playbookLoops := 0
	noiseSuppressed := 0
	for _, r := range o.loopHistory {
		if r.PlaybookUsed != "" {
			playbookLoops++
		}
		if r.FixDecision == DecisionSkipNoise {
			noiseSuppressed++
		}
	}
	llmCallsSaved := o.llmCallsSaved
	totalCostSaved := o.totalCostSaved
	o.mu.Unlock()

	report := SystemIntelligence{
		TotalLoopsProcessed: totalLoops,
		LLMCallsSaved:       llmCallsSaved,
		TotalCostSaved:      totalCostSaved,
		Playbooks:           o.playbookEngine.GetStats(),
		LLMReduction:        o.outcomeEngine.GetLLMReductionMetrics(),
		NoiseReduction:      o.policyLearner.GetNoiseReductionStats(),
		PoliciesLearned:     o.policyLearner.GetLearningStats(),
	}
	if totalLoops > 0 {
		report.PlaybookUsageRate = float64(playbookLoops) / float64(totalLoops)
		report.NoiseSuppressionRate = float64(noiseSuppressed) / float64(totalLoops)
	}
	report.Maturity = o.calculateMaturity(playbookLoops, totalLoops)

	return report
}

func (o *Orchestrator) calculateMaturity(playbookLoops, totalLoops int) Maturity {
	stats := o.playbookEngine.GetStats()

	totalPlaybooks := stats.TotalPlaybooks
	if totalPlaybooks == 0 {
		totalPlaybooks = 1
	}
	loopDenominator := totalLoops
	if loopDenominator == 0 {
		loopDenominator = 1
	}

	score := (float64(stats.HighConfidence)/float64(totalPlaybooks))*0.4 +
		(float64(playbookLoops)/float64(loopDenominator))*0.4 +
		(float64(o.policyLearner.signalPatternCount())/100)*0.2

	var level, description string
	switch {
	case score >= 0.8:
		level, description = "AUTONOMOUS", "System operates primarily on learned intelligence"
	case score >= 0.6:
		level, description = "OPTIMIZED", "LLM usage significantly reduced"
	case score >= 0.4:
		level, description = "LEARNING", "Actively accumulating intelligence"
	default:
		level, description = "FOUNDATION", "Building initial learning data"
	}

	return Maturity{Score: score, Level: level, Description: description}
}

// GetRecentLoops returns the last limit loop results.
func (o *Orchestrator) GetRecentLoops(limit int) []*LoopResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if limit > len(o.loopHistory) {
		limit = len(o.loopHistory)
	}
	return append([]*LoopResult(nil), o.loopHistory[len(o.loopHistory)-limit:]...)
}
