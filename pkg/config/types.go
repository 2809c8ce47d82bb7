package config

import "github.com/codeready-toolchain/opsagent/pkg/tool"

// PolicyConfig is the §6 "Policy" configuration surface.
type PolicyConfig struct {
	MaxActions                int     `yaml:"max_actions"`
	Environment               string  `yaml:"environment"`
	HighRiskRequiresApproval  bool    `yaml:"high_risk_requires_approval"`
	MediumRiskMinModelConf    float64 `yaml:"medium_risk_min_model_confidence"`
	MediumRiskMinToolConf     float64 `yaml:"medium_risk_min_tool_confidence"`
	BlacklistFailureCount     int     `yaml:"blacklist_failure_count"`
	BlacklistMinConfidence    float64 `yaml:"blacklist_min_confidence"`
	DecayUnused               float64 `yaml:"decay_unused"`
	DecayFailed               float64 `yaml:"decay_failed"`
	BoostSuccess              float64 `yaml:"boost_success"`
	MinConfidence             float64 `yaml:"min_confidence"`
	// CustomRules are optional CEL boolean expressions evaluated after the
	// fixed decision order (§4.1); see pkg/policy/customrules.go. Each
	// expression sees `action` (map) and `state` (map) and must evaluate
	// to a bool. A true result BLOCKs with Reason as the message.
	CustomRules []CustomRule `yaml:"custom_rules"`
}

// CustomRule is one CEL-expressed supplemental policy rule.
type CustomRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Reason     string `yaml:"reason"`
	Decision   string `yaml:"decision"` // "block" or "escalate"
}

// ApprovalConfig is the §6 "Approval" configuration surface.
type ApprovalConfig struct {
	AutoApproveLow        bool     `yaml:"auto_approve_low"`
	AutoApproveMedium     bool     `yaml:"auto_approve_medium"`
	ApprovalTimeoutSeconds int     `yaml:"approval_timeout_seconds"`
	SensitivePathPatterns []string `yaml:"sensitive_path_patterns"`
	TrustedSources        []string `yaml:"trusted_sources"`
}

// LearningConfig is the §6 "Learning" configuration surface.
type LearningConfig struct {
	MinConfidenceForAuto       float64 `yaml:"min_confidence_for_auto"`
	MinConfidenceForSuggestion float64 `yaml:"min_confidence_for_suggestion"`
	SuccessReward              float64 `yaml:"success_reward"`
	FailurePenalty              float64 `yaml:"failure_penalty"`
	RegressionPenalty           float64 `yaml:"regression_penalty"`
	NoiseThreshold              float64 `yaml:"noise_threshold"`
	RiskThreshold               float64 `yaml:"risk_threshold"`
	CostPerLLMCall              float64 `yaml:"cost_per_llm_call"`
}

// BudgetConfig is the §6 "Budget" configuration surface: per-tenant
// defaults applied when a tenant has no explicit budget row yet.
type BudgetConfig struct {
	DailyLimit   float64 `yaml:"daily_limit"`
	MonthlyLimit float64 `yaml:"monthly_limit"`
}

// StorageConfig configures where the spec-mandated on-disk JSON layout
// (§6) and the Postgres-backed stores (economic memory, approval queue,
// SPEC_FULL DOMAIN STACK) live.
type StorageConfig struct {
	RootDir      string `yaml:"root_dir"`
	DatabaseDSN  string `yaml:"database_dsn"`
	RedisAddr    string `yaml:"redis_addr"`
}

// OpsAgentYAMLConfig is the top-level `opsagent.yaml` file structure.
type OpsAgentYAMLConfig struct {
	Policy   *PolicyConfig   `yaml:"policy"`
	Approval *ApprovalConfig `yaml:"approval"`
	Learning *LearningConfig `yaml:"learning"`
	Budget   *BudgetConfig   `yaml:"budget"`
	Storage  *StorageConfig  `yaml:"storage"`
	Tools    map[string]tool.Tool `yaml:"tools"`
}
