package outcome

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// weights are the fixed point values from §4.3; they are not currently
// configurable because the spec defines them as fixed constants, unlike
// the policy decay/boost factors which are operator-tunable.
const (
	weightSuccess       = 40.0
	weightSpeed         = 20.0
	weightNoSideEffects = 15.0
	weightFirstAttempt  = 15.0
)

var lowRiskFactor = map[tool.RiskLevel]float64{
	tool.RiskNone:   10,
	tool.RiskLow:    8,
	tool.RiskMedium: 5,
	tool.RiskHigh:   2,
}

// Scorer assigns a Score to an Outcome and tracks a rolling baseline
// resolution time used by the speed factor (§4.3).
type Scorer struct {
	mu              sync.Mutex
	baselineTimeMS  float64
	recentSuccesses []int64
}

// NewScorer returns a Scorer seeded with the original implementation's
// default baseline.
func NewScorer() *Scorer {
	return &Scorer{baselineTimeMS: 5000}
}

// Score computes an OutcomeScore for outcome under ctx.
func (s *Scorer) Score(o Outcome, ctx Context) Score {
	factors := make(map[string]float64, 5)

	if o.Success {
		factors["success"] = weightSuccess
	} else {
		factors["success"] = 0
	}

	s.mu.Lock()
	baseline := s.baselineTimeMS
	s.mu.Unlock()
	if o.ExecutionTimeMS > 0 {
		ratio := baseline / float64(max64(o.ExecutionTimeMS, 1))
		factors["speed"] = min(weightSpeed, weightSpeed*ratio)
	} else {
		factors["speed"] = weightSpeed * 0.5
	}

	if !o.SideEffects {
		factors["no_side_effects"] = weightNoSideEffects
	} else {
		factors["no_side_effects"] = 0
	}

	attempt := ctx.AttemptNumber
	if attempt == 0 {
		attempt = 1
	}
	if attempt == 1 && o.Success {
		factors["first_attempt"] = weightFirstAttempt
	} else {
		factors["first_attempt"] = max(0, weightFirstAttempt-float64(attempt-1)*5)
	}

	risk := ctx.RiskLevel
	if risk == "" {
		risk = tool.RiskMedium
	}
	lr, ok := lowRiskFactor[risk]
	if !ok {
		lr = 5
	}
	factors["low_risk"] = lr

	total := 0.0
	for _, v := range factors {
		total += v
	}
	total = clamp(total, 0, 100)

	category := categorize(total, o)
	confidence := s.confidence(o, ctx)

	score := Score{Score: total, Category: category, Confidence: confidence, Factors: factors}
	slog.Info("scored outcome", "score", total, "category", category)
	return score
}

func categorize(total float64, o Outcome) Category {
	switch {
	case total >= 80:
		return Success
	case total >= 50:
		return PartialSuccess
	case o.Error != "" && (strings.Contains(strings.ToLower(o.Error), "timeout") || strings.Contains(strings.ToLower(o.Error), "timed out")):
		return Timeout
	default:
		return Failure
	}
}

func (s *Scorer) confidence(o Outcome, ctx Context) float64 {
	c := 0.5
	if ctx.HistoricalDataPoints > 10 {
		c += 0.2
	}
	switch {
	case o.Success && !o.SideEffects:
		c += 0.2
	case !o.Success && o.Error != "":
		c += 0.1
	}
	if ctx.ToolKnown {
		c += 0.1
	}
	return min(1.0, c)
}

// UpdateBaseline recomputes baselineTimeMS as the mean of recent
// successful execution times, per §4.3 "Scorer updates baseline_time_ms
// as mean of recent successful outcomes".
func (s *Scorer) UpdateBaseline(successfulTimesMS []int64) {
	if len(successfulTimesMS) == 0 {
		return
	}
	var sum int64
	for _, t := range successfulTimesMS {
		sum += t
	}
	mean := float64(sum) / float64(len(successfulTimesMS))

	s.mu.Lock()
	s.baselineTimeMS = mean
	s.mu.Unlock()
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

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
