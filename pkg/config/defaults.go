package config

// Built-in defaults for every configuration surface named in §6.
// User-supplied YAML is merged over these with mergo.WithOverride — a
// present-but-zero-valued field in the YAML does NOT override a default
// (mergo only copies non-zero source values, even with WithOverride), which matches
// the teacher's own queue-config merge in pkg/config/loader.go.

func defaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		MaxActions:             3,
		Environment:            "dev",
		HighRiskRequiresApproval: true,
		MediumRiskMinModelConf: 0.70,
		MediumRiskMinToolConf:  0.50,
		BlacklistFailureCount:  2,
		BlacklistMinConfidence: 0.20,
		DecayUnused:            0.99,
		DecayFailed:            0.95,
		BoostSuccess:           1.05,
		MinConfidence:          0.10,
	}
}

func defaultApprovalConfig() *ApprovalConfig {
	return &ApprovalConfig{
		AutoApproveLow:         true,
		AutoApproveMedium:      false,
		ApprovalTimeoutSeconds: 3600,
	}
}

func defaultLearningConfig() *LearningConfig {
	return &LearningConfig{
		MinConfidenceForAuto:       0.90,
		MinConfidenceForSuggestion: 0.70,
		SuccessReward:              0.02,
		FailurePenalty:             -0.05,
		RegressionPenalty:          -0.10,
		NoiseThreshold:             0.1,
		RiskThreshold:              0.5,
		CostPerLLMCall:             0.02,
	}
}

func defaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		DailyLimit:   50.0,
		MonthlyLimit: 1000.0,
	}
}

func defaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		RootDir: "./data",
	}
}
