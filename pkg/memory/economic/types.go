// Package economic implements Economic Memory: per-action cost tracking,
// per-tenant budget enforcement, and ROI analysis for cost-aware
// autonomy (§4.5). Budget counters are the one piece of memory state two
// opsagent processes can race on, so this package is backed by
// Postgres (pkg/database) rather than a JSON file, with a budgets.json
// snapshot still emitted after every write as the audited external
// artifact the rest of the system's tooling expects.
package economic

import "time"

// severityValues maps incident severity to a dollar value used by ROI
// (§4.5: "ROI analysis").
var severityValues = map[string]float64{
	"critical": 10000,
	"high":     5000,
	"medium":   1000,
	"low":      100,
}

// toolCosts holds base cost estimates per tool, in the same currency
// unit as budgets (dollars). Tools not listed fall back to the default
// used by EstimateActionCost.
var toolCosts = map[string]struct {
	Compute float64
	API     float64
	Human   float64
}{
	"restart_service":  {Compute: 0.01},
	"scale_pod":        {Compute: 0.02},
	"rollback_deploy":  {Compute: 0.05},
	"get_logs":         {Compute: 0.001},
	"run_diagnostic":   {Compute: 0.01},
	"apply_patch":      {Compute: 0.02},
	"update_config":    {Compute: 0.01},
	"escalate":         {Human: 10.0},
	"llm_call_small":   {API: 0.001},
	"llm_call_large":   {API: 0.03},
}

const defaultComputeCost = 0.01

// ActionCost is the recorded cost of one executed action (§3).
type ActionCost struct {
	ActionID               string    `json:"action_id"`
	TenantID               string    `json:"tenant_id"`
	Tool                   string    `json:"tool"`
	ComputeCost            float64   `json:"compute_cost"`
	APICost                float64   `json:"api_cost"`
	HumanTimeCost          float64   `json:"human_time_cost"`
	IncidentSeverity       string    `json:"incident_severity"`
	ResolutionContribution float64   `json:"resolution_contribution"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// TotalCost sums every cost component.
func (c ActionCost) TotalCost() float64 {
	return c.ComputeCost + c.APICost + c.HumanTimeCost
}

// ROI is value delivered divided by cost; zero cost yields zero ROI
// rather than dividing by zero.
func (c ActionCost) ROI() float64 {
	total := c.TotalCost()
	if total == 0 {
		return 0
	}
	value, ok := severityValues[c.IncidentSeverity]
	if !ok {
		value = severityValues["medium"]
	}
	return (value * c.ResolutionContribution) / total
}

// CostBudget is a tenant's rolling daily/monthly spending limit (§3).
type CostBudget struct {
	BudgetID     string    `json:"budget_id"`
	TenantID     string    `json:"tenant_id"`
	DailyLimit   float64   `json:"daily_limit"`
	MonthlyLimit float64   `json:"monthly_limit"`
	DailyUsed    float64   `json:"daily_used"`
	MonthlyUsed  float64   `json:"monthly_used"`
	PeriodStart  time.Time `json:"period_start"`
	LastReset    time.Time `json:"last_reset"`
}

// DailyRemaining is the unspent portion of the daily limit, floored at 0.
func (b CostBudget) DailyRemaining() float64 {
	return max(0, b.DailyLimit-b.DailyUsed)
}

// MonthlyRemaining is the unspent portion of the monthly limit, floored
// at 0.
func (b CostBudget) MonthlyRemaining() float64 {
	return max(0, b.MonthlyLimit-b.MonthlyUsed)
}

// IsOverBudget reports whether either limit has been reached or exceeded.
func (b CostBudget) IsOverBudget() bool {
	return b.DailyUsed >= b.DailyLimit || b.MonthlyUsed >= b.MonthlyLimit
}

// needsReset reports whether the daily and/or monthly counters should be
// zeroed given the current time, mirroring the original's date/month
// rollover check.
func needsReset(b CostBudget, now time.Time) (dailyReset, monthlyReset bool) {
	dailyReset = now.Truncate(24 * time.Hour).After(b.LastReset.Truncate(24 * time.Hour))
	monthlyReset = now.Month() != b.PeriodStart.Month() || now.Year() != b.PeriodStart.Year()
	return
}

// EstimateActionCost returns the estimated total cost of invoking tool,
// using the base cost table with a conservative default for unlisted
// tools.
func EstimateActionCost(tool string) float64 {
	c, ok := toolCosts[tool]
	if !ok {
		return defaultComputeCost
	}
	return c.Compute + c.API + c.Human
}

// CostReport summarizes cost vs. value over a window (§4.5: "cost
// report").
type CostReport struct {
	PeriodDays   int                    `json:"period_days"`
	TotalCost    float64                `json:"total_cost"`
	TotalValue   float64                `json:"total_value"`
	OverallROI   float64                `json:"overall_roi"`
	CostByTool   map[string]float64     `json:"cost_by_tool"`
	ActionCount  int                    `json:"action_count"`
	BudgetStatus map[string]CostBudget  `json:"budget_status"`
}

// ToolROI is one entry of a ROI ranking (§4.5: "get_tool_roi_rankings").
type ToolROI struct {
	Tool    string  `json:"tool"`
	AvgROI  float64 `json:"avg_roi"`
	Count   int     `json:"count"`
}
