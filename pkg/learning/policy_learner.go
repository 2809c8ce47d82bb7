// Package learning implements the self-evolving Learning Loop: the
// Policy & Heuristic Learner (which signals are noise, which risks
// matter, which actions work) and the Outcome Intelligence Engine
// (which fixes actually succeeded), coordinated by an orchestrator that
// ties them to the Playbook Engine so LLM usage drops over time (§4.10).
package learning

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SignalValue classifies how much attention a signal deserves.
type SignalValue string

const (
	HighValue   SignalValue = "high_value"
	MediumValue SignalValue = "medium_value"
	LowValue    SignalValue = "low_value"
	Noise       SignalValue = "noise"
)

const (
	defaultNoiseThreshold = 0.1
	defaultRiskThreshold  = 0.5
	resolutionBaselineSec = 300.0
)

// SignalPattern tracks how valuable or noisy a (signal_type,
// finding_type, source) triple has historically been.
type SignalPattern struct {
	PatternID         string
	SignalType        string
	FindingType       string
	Source            string
	Occurrences       int
	Actioned          int
	FalsePositives    int
	ActionRate        float64
	FalsePositiveRate float64
	ValueScore        float64
	Classification    SignalValue
	LastSeen          time.Time
}

func newSignalPattern(signalType, findingType, source string) *SignalPattern {
	return &SignalPattern{
		PatternID:      uuid.NewString(),
		SignalType:     signalType,
		FindingType:    findingType,
		Source:         source,
		ValueScore:     0.5,
		Classification: MediumValue,
		LastSeen:       time.Now(),
	}
}

// RecordOccurrence folds a new occurrence into the pattern and
// recomputes its derived scores.
func (p *SignalPattern) RecordOccurrence(actioned, falsePositive bool) {
	p.Occurrences++
	if actioned {
		p.Actioned++
	}
	if falsePositive {
		p.FalsePositives++
	}
	p.LastSeen = time.Now()
	p.recalculate()
}

func (p *SignalPattern) recalculate() {
	if p.Occurrences == 0 {
		return
	}
	p.ActionRate = float64(p.Actioned) / float64(p.Occurrences)
	p.FalsePositiveRate = float64(p.FalsePositives) / float64(p.Occurrences)
	p.ValueScore = p.ActionRate * (1 - p.FalsePositiveRate)

	switch {
	case p.ValueScore >= 0.7:
		p.Classification = HighValue
	case p.ValueScore >= 0.4:
		p.Classification = MediumValue
	case p.ValueScore >= 0.1:
		p.Classification = LowValue
	default:
		p.Classification = Noise
	}
}

// RiskPattern tracks how often a finding type actually causes harm.
type RiskPattern struct {
	PatternID             string
	FindingType           string
	Environment           string
	TotalOccurrences      int
	LedToIncident         int
	RequiredEmergencyFix  int
	CausedDowntime        int
	IncidentRate          float64
	RiskScore             float64
}

func newRiskPattern(findingType, environment string) *RiskPattern {
	return &RiskPattern{
		PatternID:   uuid.NewString(),
		FindingType: findingType,
		Environment: environment,
		RiskScore:   0.5,
	}
}

// RecordOccurrence folds a new risk outcome into the pattern.
func (p *RiskPattern) RecordOccurrence(ledToIncident, emergencyFix, causedDowntime bool) {
	p.TotalOccurrences++
	if ledToIncident {
		p.LedToIncident++
	}
	if emergencyFix {
		p.RequiredEmergencyFix++
	}
	if causedDowntime {
		p.CausedDowntime++
	}
	p.recalculate()
}

func (p *RiskPattern) recalculate() {
	if p.TotalOccurrences == 0 {
		return
	}
	p.IncidentRate = float64(p.LedToIncident) / float64(p.TotalOccurrences)
	p.RiskScore = (float64(p.LedToIncident)*0.4 + float64(p.RequiredEmergencyFix)*0.3 + float64(p.CausedDowntime)*0.3) / float64(p.TotalOccurrences)
}

// ActionEffectiveness tracks how well a given action resolves a given
// finding type.
type ActionEffectiveness struct {
	ActionType           string
	FindingType          string
	TimesUsed            int
	Successful           int
	Failed               int
	AvgTimeToResolution  float64
	AvgRiskReduction     float64
	SuccessRate          float64
	EffectivenessScore   float64

	resolutionTimes []float64
	riskReductions  []float64
}

func newActionEffectiveness(actionType, findingType string) *ActionEffectiveness {
	return &ActionEffectiveness{ActionType: actionType, FindingType: findingType}
}

// RecordAction folds a new action attempt into the effectiveness model.
func (a *ActionEffectiveness) RecordAction(successful bool, timeToResolution, riskReduction float64) {
	a.TimesUsed++
	if successful {
		a.Successful++
	} else {
		a.Failed++
	}
	a.resolutionTimes = append(a.resolutionTimes, timeToResolution)
	a.riskReductions = append(a.riskReductions, riskReduction)
	a.recalculate()
}

func (a *ActionEffectiveness) recalculate() {
	if a.TimesUsed == 0 {
		return
	}
	a.SuccessRate = float64(a.Successful) / float64(a.TimesUsed)
	a.AvgTimeToResolution = mean(a.resolutionTimes)
	a.AvgRiskReduction = mean(a.riskReductions)

	timeFactor := 1 / (1 + a.AvgTimeToResolution/resolutionBaselineSec)
	a.EffectivenessScore = a.SuccessRate * a.AvgRiskReduction * timeFactor
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PolicyLearner learns which signals are noise, which risks matter, and
// which actions reduce risk fastest, reducing reasoning calls over time.
type PolicyLearner struct {
	mu sync.Mutex

	noiseThreshold float64
	riskThreshold  float64

	signalPatterns      map[string]*SignalPattern
	riskPatterns        map[string]*RiskPattern
	actionEffectiveness map[string]*ActionEffectiveness

	suppressedCount int
	totalSignals    int

	onNoiseSuppressed func(key string)
	onRiskEscalated   func(key string)
}

// NewPolicyLearner constructs a learner with the default noise and risk
// thresholds.
func NewPolicyLearner() *PolicyLearner {
	return &PolicyLearner{
		noiseThreshold:      defaultNoiseThreshold,
		riskThreshold:       defaultRiskThreshold,
		signalPatterns:      make(map[string]*SignalPattern),
		riskPatterns:        make(map[string]*RiskPattern),
		actionEffectiveness: make(map[string]*ActionEffectiveness),
	}
}

func signalKey(signalType, findingType, source string) string {
	return signalType + "|" + findingType + "|" + source
}

// EvaluateSignal decides whether a signal should be processed or
// suppressed as noise (§4.10 step (a)).
func (l *PolicyLearner) EvaluateSignal(signalType, findingType, source string) (shouldProcess bool, classification SignalValue, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := signalKey(signalType, findingType, source)
	l.totalSignals++

	pattern, ok := l.signalPatterns[key]
	if !ok {
		l.signalPatterns[key] = newSignalPattern(signalType, findingType, source)
		return true, MediumValue, "new_pattern"
	}

	if pattern.Classification == Noise && pattern.ValueScore < l.noiseThreshold {
		l.suppressedCount++
		if l.onNoiseSuppressed != nil {
			l.onNoiseSuppressed(key)
		}
		return false, Noise, "noise_score_below_threshold"
	}

	return true, pattern.Classification, "value_score_acceptable"
}

// RecordSignalOutcome feeds a signal's real-world outcome back into its
// pattern.
func (l *PolicyLearner) RecordSignalOutcome(signalType, findingType, source string, actioned, falsePositive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := signalKey(signalType, findingType, source)
	pattern, ok := l.signalPatterns[key]
	if !ok {
		pattern = newSignalPattern(signalType, findingType, source)
		l.signalPatterns[key] = pattern
	}
	pattern.RecordOccurrence(actioned, falsePositive)
}

// GetRiskPriority returns the learned risk score for a finding type in
// an environment, defaulting to 0.5 absent data.
func (l *PolicyLearner) GetRiskPriority(findingType, environment string) (float64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := findingType + "|" + environment
	pattern, ok := l.riskPatterns[key]
	if !ok {
		return 0.5, "no_learning_data"
	}

	if pattern.RiskScore >= l.riskThreshold {
		if l.onRiskEscalated != nil {
			l.onRiskEscalated(key)
		}
		return pattern.RiskScore, "high_risk_incident_rate"
	}
	return pattern.RiskScore, "risk_score_moderate"
}

// RecordRiskOutcome feeds a real-world risk outcome back into the
// finding type's risk pattern.
func (l *PolicyLearner) RecordRiskOutcome(findingType, environment string, ledToIncident, emergencyFix, causedDowntime bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := findingType + "|" + environment
	pattern, ok := l.riskPatterns[key]
	if !ok {
		pattern = newRiskPattern(findingType, environment)
		l.riskPatterns[key] = pattern
	}
	pattern.RecordOccurrence(ledToIncident, emergencyFix, causedDowntime)
}

// GetBestAction returns the historically most effective of
// availableActions for findingType.
func (l *PolicyLearner) GetBestAction(findingType string, availableActions []string) (action string, score float64, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best string
	bestScore := 0.0
	for _, candidate := range availableActions {
		key := candidate + "|" + findingType
		if eff, ok := l.actionEffectiveness[key]; ok && eff.EffectivenessScore > bestScore {
			bestScore = eff.EffectivenessScore
			best = candidate
		}
	}

	if best != "" {
		return best, bestScore, "learned_effectiveness"
	}
	if len(availableActions) > 0 {
		return availableActions[0], 0.0, "no_learning_data"
	}
	return "none", 0.0, "no_learning_data"
}

// RecordActionOutcome feeds an action's real-world result back into its
// effectiveness model.
func (l *PolicyLearner) RecordActionOutcome(actionType, findingType string, successful bool, timeToResolution, riskReduction float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := actionType + "|" + findingType
	eff, ok := l.actionEffectiveness[key]
	if !ok {
		eff = newActionEffectiveness(actionType, findingType)
		l.actionEffectiveness[key] = eff
	}
	eff.RecordAction(successful, timeToResolution, riskReduction)
}

// NoiseReductionStats summarizes how much traffic has been suppressed.
type NoiseReductionStats struct {
	TotalSignalsProcessed int
	SignalsSuppressed     int
	SuppressionRate       float64
	NoisePatternsIdentified int
	TotalPatternsLearned  int
}

// GetNoiseReductionStats computes NoiseReductionStats from current
// state.
func (l *PolicyLearner) GetNoiseReductionStats() NoiseReductionStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	noiseCount := 0
	for _, p := range l.signalPatterns {
		if p.Classification == Noise {
			noiseCount++
		}
	}

	stats := NoiseReductionStats{
		TotalSignalsProcessed:   l.totalSignals,
		SignalsSuppressed:       l.suppressedCount,
		NoisePatternsIdentified: noiseCount,
		TotalPatternsLearned:    len(l.signalPatterns),
	}
	if l.totalSignals > 0 {
		stats.SuppressionRate = float64(l.suppressedCount) / float64(l.totalSignals)
	}
	return stats
}

// LearningStats summarizes the learner's accumulated knowledge.
type LearningStats struct {
	SignalPatterns    int
	RiskPatterns      int
	ActionPatterns    int
	NoiseReduction    NoiseReductionStats
	HighRiskPatterns  int
}

// GetLearningStats computes overall learning statistics.
func (l *PolicyLearner) GetLearningStats() LearningStats {
	noise := l.GetNoiseReductionStats()

	l.mu.Lock()
	defer l.mu.Unlock()

	highRisk := 0
	for _, p := range l.riskPatterns {
		if p.RiskScore >= l.riskThreshold {
			highRisk++
		}
	}

	return LearningStats{
		SignalPatterns:   len(l.signalPatterns),
		RiskPatterns:     len(l.riskPatterns),
		ActionPatterns:   len(l.actionEffectiveness),
		NoiseReduction:   noise,
		HighRiskPatterns: highRisk,
	}
}

// signalPatternCount exposes the number of learned signal patterns, used
// by the orchestrator's maturity calculation without leaking the
// internal map.
func (l *PolicyLearner) signalPatternCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signalPatterns)
}
