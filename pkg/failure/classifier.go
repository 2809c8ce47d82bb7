package failure

import (
	"math/rand"
	"regexp"
	"strings"
)

// DefaultJitterCeilingSeconds caps the random jitter added on top of the
// computed retry delay, per SPEC_FULL.md's supplemented retry-delay
// jitter feature: exponential backoff alone can synchronize retries
// across incidents hitting the same flaky dependency.
const DefaultJitterCeilingSeconds = 120

type rule struct {
	pattern       *regexp.Regexp
	failureType   Type
	severity      Severity
	recoverable   bool
	action        string
}

// rules mirrors the original classifier's ordered pattern table
// (original_source/backend/src/core/outcomes/failure_classifier.py).
// Classify scores every match and keeps the one with the longest (most
// specific) pattern; order only decides ties between patterns of equal
// length, where the earlier rule wins.
var rules = []rule{
	{regexp.MustCompile(`connection.*refused|econnrefused`), Transient, SeverityMedium, true, "Retry after delay"},
	{regexp.MustCompile(`timeout|timed out|deadline exceeded`), Timeout, SeverityMedium, true, "Retry with longer timeout"},
	{regexp.MustCompile(`temporarily unavailable|service unavailable|503`), Transient, SeverityMedium, true, "Retry with backoff"},
	{regexp.MustCompile(`rate limit|too many requests|429`), Transient, SeverityLow, true, "Wait and retry"},

	{regexp.MustCompile(`permission denied|access denied|forbidden|403|401`), Permission, SeverityHigh, false, "Escalate for access"},
	{regexp.MustCompile(`unauthorized|authentication failed`), Permission, SeverityHigh, false, "Check credentials"},

	{regexp.MustCompile(`not found|404|does not exist`), Resource, SeverityMedium, false, "Verify resource exists"},
	{regexp.MustCompile(`no such|cannot find`), Resource, SeverityMedium, false, "Check resource path"},
	{regexp.MustCompile(`out of memory|oom|memory limit`), Resource, SeverityCritical, false, "Scale resources"},
	{regexp.MustCompile(`disk full|no space left`), Resource, SeverityCritical, false, "Free disk space"},

	{regexp.MustCompile(`invalid|malformed|bad request|400`), Validation, SeverityMedium, false, "Fix input parameters"},
	{regexp.MustCompile(`schema.*error|validation.*failed`), Validation, SeverityMedium, false, "Correct data format"},

	{regexp.MustCompile(`upstream|downstream|dependency|external service`), Dependency, SeverityHigh, true, "Check dependencies"},
	{regexp.MustCompile(`database.*error|db.*failed`), Dependency, SeverityHigh, true, "Check database health"},

	{regexp.MustCompile(`fatal|unrecoverable|critical error`), Permanent, SeverityCritical, false, "Manual intervention required"},
}

// retryBaseDelay is the per-type base delay in seconds for exponential
// backoff (§4.3).
var retryBaseDelay = map[Type]int{
	Transient:  2,
	Timeout:    5,
	Dependency: 10,
}

const maxRawErrorLen = 500

// Classifier applies the pattern table to turn an error string into a
// ClassifiedFailure.
type Classifier struct{}

// NewClassifier returns a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify runs every pattern against error and keeps the highest-scoring
// match, using pattern length as a tie-break proxy for specificity, then
// applies ctx adjustments (§4.3).
func (c *Classifier) Classify(errText string, ctx Context) Classified {
	lower := strings.ToLower(errText)

	var matched []string
	var best *rule
	bestConfidence := 0.0

	for i := range rules {
		r := &rules[i]
		if r.pattern.MatchString(lower) {
			matched = append(matched, r.pattern.String())
			confidence := float64(len(r.pattern.String())) / 50
			if confidence > bestConfidence {
				bestConfidence = confidence
				best = r
			}
		}
	}

	var ft Type
	var sev Severity
	var recoverable bool
	var action string
	confidence := bestConfidence

	if best != nil {
		ft, sev, recoverable, action = best.failureType, best.severity, best.recoverable, best.action
	} else {
		ft, sev, recoverable, action = Unknown, SeverityMedium, false, "Investigate and escalate"
		confidence = 0.3
	}

	if ctx.RetryCount >= 3 {
		recoverable = false
		action = "Max retries reached - escalate"
	}
	if ctx.Environment == "production" && sev == SeverityMedium {
		sev = SeverityHigh
	}

	raw := errText
	if len(raw) > maxRawErrorLen {
		raw = raw[:maxRawErrorLen]
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	return Classified{
		Type:              ft,
		Severity:          sev,
		IsRecoverable:     recoverable,
		RecommendedAction: action,
		Confidence:        confidence,
		PatternsMatched:   matched,
		RawError:          raw,
	}
}

// ShouldRetry decides whether a classified failure warrants another
// attempt (§4.3: recoverable AND attempt < 3 AND type is transient/timeout,
// or dependency on the first retry only).
func (c *Classifier) ShouldRetry(f Classified, attempt int) bool {
	if !f.IsRecoverable {
		return false
	}
	if attempt >= 3 {
		return false
	}
	if f.Type == Transient || f.Type == Timeout {
		return true
	}
	if f.Type == Dependency && attempt < 2 {
		return true
	}
	return false
}

// RetryDelaySeconds returns the recommended delay before retry attempt,
// per §4.3's exponential backoff (base × 2^(attempt-1)).
func (c *Classifier) RetryDelaySeconds(f Classified, attempt int) int {
	base, ok := retryBaseDelay[f.Type]
	if !ok {
		base = 5
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// RetryDelayWithJitter adds up to jitterCeilingSeconds of random jitter to
// the computed retry delay. Only the jitter is bounded by the ceiling; the
// exponential delay itself is not capped.
func (c *Classifier) RetryDelayWithJitter(f Classified, attempt, jitterCeilingSeconds int) int {
	delay := c.RetryDelaySeconds(f, attempt)
	jitter := 0
	if jitterCeilingSeconds > 0 {
		jitter = rand.Intn(jitterCeilingSeconds + 1)
	}
	return delay + jitter
}
