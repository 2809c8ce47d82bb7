// Package approval implements the Approval Gate (§4.7): machine-speed
// execution with human control. A Postgres-backed queue is the
// authoritative source of truth so every opsagent process sees the same
// pending requests; a legacy `approvals/<agent_id>.approve` file sink is
// polled alongside it for operators who prefer to drop a file rather
// than call an API.
package approval

import (
	"strings"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// Status is the closed set of states an approval request can be in (§3).
type Status string

const (
	Pending      Status = "pending"
	Approved     Status = "approved"
	Rejected     Status = "rejected"
	Expired      Status = "expired"
	AutoApproved Status = "auto_approved"
)

// Policy controls when an action is auto-approved versus routed to a
// human (§3 ApprovalPolicy).
type Policy struct {
	AutoApproveLowRisk      bool
	AutoApproveMediumRisk   bool
	RequireApprovalHighRisk bool
	RequireApprovalCritical bool
	ApprovalTimeoutSeconds  int
	SensitivePaths          []string
	TrustedSources          []string
}

// DefaultPolicy mirrors the original's dataclass defaults.
func DefaultPolicy() Policy {
	return Policy{
		AutoApproveLowRisk:      true,
		AutoApproveMediumRisk:   false,
		RequireApprovalHighRisk: true,
		RequireApprovalCritical: true,
		ApprovalTimeoutSeconds:  3600,
		SensitivePaths:          []string{"production", "main", "master", "/etc/", "secrets", ".env"},
	}
}

// isSensitivePath reports whether any field of actionData mentions one
// of the policy's sensitive path fragments (§4.7).
func (p Policy) isSensitivePath(actionData map[string]any) bool {
	var fields []string
	for _, key := range []string{"file_path", "target", "environment"} {
		if v, ok := actionData[key].(string); ok {
			fields = append(fields, v)
		}
	}
	if params, ok := actionData["parameters"]; ok {
		fields = append(fields, toSearchableString(params))
	}
	combined := strings.ToLower(strings.Join(fields, " "))

	for _, sensitive := range p.SensitivePaths {
		if strings.Contains(combined, strings.ToLower(sensitive)) {
			return true
		}
	}
	return false
}

func toSearchableString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		var parts []string
		for k, val := range t {
			parts = append(parts, k, toSearchableString(val))
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// isTrusted reports whether context's "source" field is in the trusted
// source list.
func (p Policy) isTrusted(context map[string]any) bool {
	source, _ := context["source"].(string)
	if source == "" {
		return false
	}
	for _, t := range p.TrustedSources {
		if t == source {
			return true
		}
	}
	return false
}

// Request is one approval request (§3 ApprovalRequest).
type Request struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id"`
	ActionData       map[string]any `json:"action"`
	Context          map[string]any `json:"context"`
	RiskLevel        tool.RiskLevel `json:"risk_level"`
	Status           Status         `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	RejectedAt       *time.Time     `json:"rejected_at,omitempty"`
	RejectedBy       string         `json:"rejected_by,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
}

// IsExpired reports whether the request's timeout has elapsed.
func (r Request) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
