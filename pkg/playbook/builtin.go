package playbook

import "time"

// loadBuiltinPlaybooks seeds the catalog with the fix strategies known
// to be safe to auto-apply or human-review out of the box.
func (e *Engine) loadBuiltinPlaybooks() {
	builtin := []FixPlaybook{
		{
			PlaybookID:  "PB-SQLI-NODE-EXPRESS-001",
			FindingType: "SQL_INJECTION",
			Language:    "nodejs",
			Framework:   "express",
			ContextConstraints: ContextConstraints{
				Languages:  []string{"nodejs", "javascript", "typescript"},
				Frameworks: []string{"express", "fastify", "koa"},
				ORMs:       []string{"sequelize", "typeorm", "knex", "prisma"},
			},
			FixStrategy: FixStrategy{
				Description:      "Replace string interpolation with parameterized queries",
				CodePattern:      "parameterized_query",
				TestRequirements: []string{"unit_test_added", "input_validation_test"},
			},
			Confidence:     0.94,
			ApprovalPolicy: AutoApply,
			Source:         SourceBuiltin,
		},
		{
			PlaybookID:  "PB-XSS-REACT-001",
			FindingType: "XSS",
			Language:    "javascript",
			Framework:   "react",
			ContextConstraints: ContextConstraints{
				Languages:  []string{"javascript", "typescript"},
				Frameworks: []string{"react", "nextjs"},
			},
			FixStrategy: FixStrategy{
				Description:      "Replace dangerouslySetInnerHTML with sanitized content",
				CodePattern:      "sanitize_html",
				TestRequirements: []string{"xss_test", "render_test"},
			},
			Confidence:     0.91,
			ApprovalPolicy: AutoApply,
			Source:         SourceBuiltin,
		},
		{
			PlaybookID:  "PB-HARDCODED-SECRET-001",
			FindingType: "HARDCODED_SECRET",
			Language:    "any",
			Framework:   "any",
			FixStrategy: FixStrategy{
				Description:      "Move secret to environment variable or secret manager",
				CodePattern:      "env_variable",
				TestRequirements: []string{"secret_scan", "env_exists"},
			},
			Confidence:     0.95,
			ApprovalPolicy: HumanReview,
			Source:         SourceBuiltin,
		},
		{
			PlaybookID:  "PB-INSECURE-DESERIALIZATION-001",
			FindingType: "INSECURE_DESERIALIZATION",
			Language:    "python",
			Framework:   "any",
			ContextConstraints: ContextConstraints{
				Languages: []string{"python"},
			},
			FixStrategy: FixStrategy{
				Description:      "Replace pickle with JSON or use safe_load for YAML",
				CodePattern:      "safe_serialization",
				TestRequirements: []string{"deserialization_test"},
			},
			Confidence:     0.88,
			ApprovalPolicy: HumanReview,
			Source:         SourceBuiltin,
		},
		{
			PlaybookID:  "PB-CMD-INJECTION-001",
			FindingType: "COMMAND_INJECTION",
			Language:    "any",
			Framework:   "any",
			FixStrategy: FixStrategy{
				Description:      "Use subprocess with shell=False and explicit args list",
				CodePattern:      "safe_subprocess",
				TestRequirements: []string{"command_test", "input_validation"},
			},
			Confidence:     0.92,
			ApprovalPolicy: HumanReview,
			Source:         SourceBuiltin,
		},
	}

	for _, p := range builtin {
		if _, exists := e.playbooks[p.PlaybookID]; exists {
			continue
		}
		now := time.Now()
		p.CreatedAt = now
		p.UpdatedAt = now
		if p.AutoApplyThreshold == 0 {
			p.AutoApplyThreshold = defaultAutoApplyThreshold
		}
		_ = e.addLocked(p)
	}
}
