// Package failure classifies tool errors into actionable categories so
// the autonomy loop can decide whether to retry, escalate, or give up
// (§4.3 Failure Classifier).
package failure

// Type is the closed sum type a classified failure falls into.
type Type string

const (
	Transient  Type = "transient"
	Permanent  Type = "permanent"
	Permission Type = "permission"
	Resource   Type = "resource"
	Timeout    Type = "timeout"
	Validation Type = "validation"
	Dependency Type = "dependency"
	Unknown    Type = "unknown"
)

// Severity is how much a failure matters.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classified is the result of running the Failure Classifier on an error
// string (§3).
type Classified struct {
	Type              Type
	Severity          Severity
	IsRecoverable     bool
	RecommendedAction string
	Confidence        float64
	PatternsMatched   []string
	RawError          string
}

// Context carries the state the classifier factors in beyond the raw
// error text (§4.3: retry_count and environment adjustments).
type Context struct {
	RetryCount  int
	Environment string
}
