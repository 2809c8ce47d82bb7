package config

import "fmt"

// Validator checks a loaded Config for internal consistency before it is
// handed to the rest of the system (teacher's pkg/config/validator.go
// pattern: a dedicated type driven by ValidateAll).
type Validator struct {
	cfg *Config
}

// NewValidator returns a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation rule and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validatePolicy(); err != nil {
		return err
	}
	if err := v.validateApproval(); err != nil {
		return err
	}
	if err := v.validateLearning(); err != nil {
		return err
	}
	if err := v.validateBudget(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validatePolicy() error {
	p := v.cfg.Policy
	if p.MaxActions <= 0 {
		return &ValidationError{Component: "policy", Field: "max_actions", Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if p.MediumRiskMinModelConf < 0 || p.MediumRiskMinModelConf > 1 {
		return &ValidationError{Component: "policy", Field: "medium_risk_min_model_confidence", Err: ErrInvalidValue}
	}
	for _, r := range p.CustomRules {
		if r.Expression == "" {
			return &ValidationError{Component: "policy", ID: r.Name, Field: "expression", Err: ErrMissingRequiredField}
		}
		if r.Decision != "block" && r.Decision != "escalate" {
			return &ValidationError{Component: "policy", ID: r.Name, Field: "decision", Err: fmt.Errorf("%w: must be block or escalate", ErrInvalidValue)}
		}
	}
	return nil
}

func (v *Validator) validateApproval() error {
	a := v.cfg.Approval
	if a.ApprovalTimeoutSeconds <= 0 {
		return &ValidationError{Component: "approval", Field: "approval_timeout_seconds", Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	return nil
}

func (v *Validator) validateLearning() error {
	l := v.cfg.Learning
	if l.MinConfidenceForAuto < l.MinConfidenceForSuggestion {
		return &ValidationError{Component: "learning", Field: "min_confidence_for_auto", Err: fmt.Errorf("%w: must be >= min_confidence_for_suggestion", ErrInvalidValue)}
	}
	return nil
}

func (v *Validator) validateBudget() error {
	b := v.cfg.Budget
	if b.DailyLimit <= 0 || b.MonthlyLimit <= 0 {
		return &ValidationError{Component: "budget", Field: "daily_limit/monthly_limit", Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if b.MonthlyLimit < b.DailyLimit {
		return &ValidationError{Component: "budget", Field: "monthly_limit", Err: fmt.Errorf("%w: must be >= daily_limit", ErrInvalidValue)}
	}
	return nil
}
