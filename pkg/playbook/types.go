// Package playbook implements the Playbook Engine (§4.9): matches a
// finding type and execution context to a stored fix strategy,
// progressively replacing LLM calls with proven patterns as confidence
// grows.
package playbook

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalPolicy controls how a playbook's fix may be applied.
type ApprovalPolicy string

const (
	AutoApply    ApprovalPolicy = "auto_apply"
	HumanReview  ApprovalPolicy = "human_review"
	TeamApproval ApprovalPolicy = "team_approval"
)

const (
	defaultAutoApplyThreshold = 0.90
	llmConvertedConfidence    = 0.6
)

// SuccessMetrics tracks a playbook's track record.
type SuccessMetrics struct {
	SuccessfulFixes int        `json:"successful_fixes"`
	FailedFixes     int        `json:"failed_fixes"`
	Regressions     int        `json:"regressions"`
	TotalUses       int        `json:"total_uses"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
}

// SuccessRate is SuccessfulFixes / TotalUses, or 0 with no uses yet.
func (m SuccessMetrics) SuccessRate() float64 {
	if m.TotalUses == 0 {
		return 0.0
	}
	return float64(m.SuccessfulFixes) / float64(m.TotalUses)
}

// RecordSuccess tallies a successful application.
func (m *SuccessMetrics) RecordSuccess() {
	m.SuccessfulFixes++
	m.TotalUses++
	now := time.Now()
	m.LastUsed = &now
}

// RecordFailure tallies a failed application, optionally a regression.
func (m *SuccessMetrics) RecordFailure(regression bool) {
	m.FailedFixes++
	m.TotalUses++
	if regression {
		m.Regressions++
	}
	now := time.Now()
	m.LastUsed = &now
}

// FixStrategy describes how to apply a playbook's fix.
type FixStrategy struct {
	Description      string   `json:"description"`
	CodePattern      string   `json:"code_pattern"`
	FixTemplate      string   `json:"fix_template,omitempty"`
	TestRequirements []string `json:"test_requirements,omitempty"`
	RollbackSteps    []string `json:"rollback_steps,omitempty"`
}

// ContextConstraints scopes when a playbook applies; an empty field
// matches any value (§4.9).
type ContextConstraints struct {
	Languages    []string `json:"languages,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
	ORMs         []string `json:"orms,omitempty"`
	Databases    []string `json:"databases,omitempty"`
	Environments []string `json:"environments,omitempty"`
}

// Matches reports whether context satisfies every non-empty constraint.
func (c ContextConstraints) Matches(context map[string]string) bool {
	if len(c.Languages) > 0 && !contains(c.Languages, context["language"]) {
		return false
	}
	if len(c.Frameworks) > 0 && !contains(c.Frameworks, context["framework"]) {
		return false
	}
	if len(c.ORMs) > 0 && !contains(c.ORMs, context["orm"]) {
		return false
	}
	if len(c.Databases) > 0 && !contains(c.Databases, context["database"]) {
		return false
	}
	if len(c.Environments) > 0 && !contains(c.Environments, context["environment"]) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// Source identifies how a playbook came to exist.
type Source string

const (
	SourceBuiltin      Source = "builtin"
	SourceManual       Source = "manual"
	SourceLLMConverted Source = "llm_converted"
	SourceLearned      Source = "learned"
)

// FixPlaybook is a stored, context-constrained fix strategy with
// confidence and an approval policy (§3).
type FixPlaybook struct {
	PlaybookID          string              `json:"playbook_id"`
	FindingType         string              `json:"finding_type"`
	Language            string              `json:"language"`
	Framework           string              `json:"framework"`
	ContextConstraints  ContextConstraints  `json:"context_constraints"`
	FixStrategy         FixStrategy         `json:"fix_strategy"`
	Confidence          float64             `json:"confidence"`
	SuccessMetrics      SuccessMetrics      `json:"success_metrics"`
	ApprovalPolicy      ApprovalPolicy      `json:"approval_policy"`
	AutoApplyThreshold  float64             `json:"auto_apply_threshold"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	Source              Source              `json:"source"`
}

// Key identifies a playbook's matching dimension (finding type,
// language, framework).
func (p FixPlaybook) Key() string {
	return p.FindingType + "|" + p.Language + "|" + p.Framework
}

// CanAutoApply reports whether the playbook may be applied without a
// human in the loop.
func (p FixPlaybook) CanAutoApply() bool {
	return p.ApprovalPolicy == AutoApply && p.Confidence >= p.AutoApplyThreshold
}

// MatchesContext delegates to ContextConstraints.Matches.
func (p FixPlaybook) MatchesContext(context map[string]string) bool {
	return p.ContextConstraints.Matches(context)
}

// newPlaybook fills in identity and timestamp defaults shared by every
// construction path.
func newPlaybook(findingType, language, framework string, strategy FixStrategy, confidence float64, policy ApprovalPolicy, source Source) FixPlaybook {
	now := time.Now()
	return FixPlaybook{
		PlaybookID:         uuid.NewString(),
		FindingType:        findingType,
		Language:           language,
		Framework:          framework,
		FixStrategy:        strategy,
		Confidence:         confidence,
		ApprovalPolicy:     policy,
		AutoApplyThreshold: defaultAutoApplyThreshold,
		CreatedAt:          now,
		UpdatedAt:          now,
		Source:             source,
	}
}

// Match is the result of matching a finding to a playbook (§4.9).
type Match struct {
	Playbook      FixPlaybook `json:"-"`
	MatchScore    float64     `json:"match_score"`
	MatchReason   string      `json:"match_reason"`
	UsePlaybook   bool        `json:"use_playbook"`
	FallbackToLLM bool        `json:"fallback_to_llm"`
}

// Decision is the outcome of GetFixDecision.
type Decision string

const (
	DecisionUsePlaybook           Decision = "use_playbook"
	DecisionUsePlaybookWithReview Decision = "use_playbook_with_review"
	DecisionUseLLM                Decision = "use_llm"
)
