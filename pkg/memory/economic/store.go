package economic

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/database"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is the persistent economic memory store. Budget reads/writes go
// through Postgres inside single transactions so two concurrent
// processes can never both approve an action that only one budget can
// afford; a budgets.json snapshot is refreshed after every mutation as
// the audited external artifact.
type Store struct {
	client      *database.Client
	storagePath string
}

// Open connects to Postgres, applies economic memory's migrations, and
// prepares storagePath for budget snapshots.
func Open(ctx context.Context, cfg database.Config, storagePath string) (*Store, error) {
	client, err := database.NewClient(ctx, cfg, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening economic memory database: %w", err)
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating economic memory snapshot dir %s: %w", storagePath, err)
	}
	return &Store{client: client, storagePath: storagePath}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// SetBudget creates or replaces tenantID's budget limits.
func (s *Store) SetBudget(ctx context.Context, tenantID string, dailyLimit, monthlyLimit float64) (CostBudget, error) {
	now := time.Now()
	b := CostBudget{
		BudgetID:     "budget_" + tenantID,
		TenantID:     tenantID,
		DailyLimit:   dailyLimit,
		MonthlyLimit: monthlyLimit,
		PeriodStart:  now,
		LastReset:    now,
	}
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO cost_budgets (tenant_id, budget_id, daily_limit, monthly_limit, daily_used, monthly_used, period_start, last_reset)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			budget_id = EXCLUDED.budget_id,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			daily_used = 0,
			monthly_used = 0,
			period_start = EXCLUDED.period_start,
			last_reset = EXCLUDED.last_reset
	`, tenantID, b.BudgetID, dailyLimit, monthlyLimit, now)
	if err != nil {
		return CostBudget{}, fmt.Errorf("setting budget for %s: %w", tenantID, err)
	}
	if err := s.writeSnapshot(ctx); err != nil {
		return CostBudget{}, err
	}
	return b, nil
}

// GetBudget returns tenantID's budget, or ok=false if none is set.
func (s *Store) GetBudget(ctx context.Context, tenantID string) (budget CostBudget, ok bool, err error) {
	budget, ok, err = s.readBudget(ctx, s.client.DB(), tenantID)
	return
}

func (s *Store) readBudget(ctx context.Context, q querier, tenantID string) (CostBudget, bool, error) {
	var b CostBudget
	row := q.QueryRowContext(ctx, `
		SELECT tenant_id, budget_id, daily_limit, monthly_limit, daily_used, monthly_used, period_start, last_reset
		FROM cost_budgets WHERE tenant_id = $1
	`, tenantID)
	err := row.Scan(&b.TenantID, &b.BudgetID, &b.DailyLimit, &b.MonthlyLimit, &b.DailyUsed, &b.MonthlyUsed, &b.PeriodStart, &b.LastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return CostBudget{}, false, nil
	}
	if err != nil {
		return CostBudget{}, false, fmt.Errorf("reading budget for %s: %w", tenantID, err)
	}
	return b, true, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CanAffordAction reports whether tenantID can afford tool's estimated
// cost against its current budget. A tenant with no budget set is
// unconstrained (§4.5: "No budget set" is not a denial).
func (s *Store) CanAffordAction(ctx context.Context, tenantID, tool string) (bool, string, error) {
	budget, ok, err := s.GetBudget(ctx, tenantID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return true, "no budget set", nil
	}

	budget = applyReset(budget, time.Now())
	estimated := EstimateActionCost(tool)

	if budget.DailyRemaining() < estimated {
		return false, fmt.Sprintf("daily budget exhausted (%.2f/%.2f)", budget.DailyUsed, budget.DailyLimit), nil
	}
	if budget.MonthlyRemaining() < estimated {
		return false, fmt.Sprintf("monthly budget exhausted (%.2f/%.2f)", budget.MonthlyUsed, budget.MonthlyLimit), nil
	}
	return true, "within budget", nil
}

// RecordActionCost records the cost of one executed action for tenantID
// and atomically debits its budget, under a single transaction with a
// row lock so two concurrent writers can never both apply against a
// stale budget snapshot.
func (s *Store) RecordActionCost(ctx context.Context, tenantID string, cost ActionCost) (ActionCost, error) {
	if cost.OccurredAt.IsZero() {
		cost.OccurredAt = time.Now()
	}
	if c, ok := toolCosts[cost.Tool]; ok {
		if cost.ComputeCost == 0 {
			cost.ComputeCost = c.Compute
		}
		if cost.APICost == 0 {
			cost.APICost = c.API
		}
	}
	cost.TenantID = tenantID

	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return ActionCost{}, fmt.Errorf("beginning action cost transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO action_costs (action_id, tenant_id, tool, compute_cost, api_cost, human_time_cost, incident_severity, resolution_contribution, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, cost.ActionID, tenantID, cost.Tool, cost.ComputeCost, cost.APICost, cost.HumanTimeCost, cost.IncidentSeverity, cost.ResolutionContribution, cost.OccurredAt)
	if err != nil {
		return ActionCost{}, fmt.Errorf("inserting action cost: %w", err)
	}

	var lockedBudget CostBudget
	row := tx.QueryRowContext(ctx, `
		SELECT tenant_id, budget_id, daily_limit, monthly_limit, daily_used, monthly_used, period_start, last_reset
		FROM cost_budgets WHERE tenant_id = $1 FOR UPDATE
	`, tenantID)
	scanErr := row.Scan(&lockedBudget.TenantID, &lockedBudget.BudgetID, &lockedBudget.DailyLimit, &lockedBudget.MonthlyLimit,
		&lockedBudget.DailyUsed, &lockedBudget.MonthlyUsed, &lockedBudget.PeriodStart, &lockedBudget.LastReset)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		return ActionCost{}, fmt.Errorf("locking budget for %s: %w", tenantID, scanErr)
	}
	if scanErr == nil {
		now := time.Now()
		lockedBudget = applyReset(lockedBudget, now)
		lockedBudget.DailyUsed += cost.TotalCost()
		lockedBudget.MonthlyUsed += cost.TotalCost()
		_, err = tx.ExecContext(ctx, `
			UPDATE cost_budgets SET daily_used = $2, monthly_used = $3, period_start = $4, last_reset = $5
			WHERE tenant_id = $1
		`, tenantID, lockedBudget.DailyUsed, lockedBudget.MonthlyUsed, lockedBudget.PeriodStart, lockedBudget.LastReset)
		if err != nil {
			return ActionCost{}, fmt.Errorf("updating budget for %s: %w", tenantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ActionCost{}, fmt.Errorf("committing action cost: %w", err)
	}

	if err := s.writeSnapshot(ctx); err != nil {
		return ActionCost{}, err
	}
	return cost, nil
}

// applyReset zeroes daily and/or monthly usage if their periods have
// rolled over, mirroring the original's date/month comparison (§4.5).
func applyReset(b CostBudget, now time.Time) CostBudget {
	dailyReset, monthlyReset := needsReset(b, now)
	if dailyReset {
		b.DailyUsed = 0
		b.LastReset = now
	}
	if monthlyReset {
		b.MonthlyUsed = 0
		b.PeriodStart = now
	}
	return b
}

// GetCostReport summarizes cost vs. value over the last days days
// across every tenant.
func (s *Store) GetCostReport(ctx context.Context, days int) (CostReport, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT tool, compute_cost, api_cost, human_time_cost, incident_severity, resolution_contribution
		FROM action_costs WHERE occurred_at > $1
	`, cutoff)
	if err != nil {
		return CostReport{}, fmt.Errorf("querying cost report: %w", err)
	}
	defer rows.Close()

	report := CostReport{PeriodDays: days, CostByTool: map[string]float64{}}
	for rows.Next() {
		var tool, severity string
		var compute, api, human, contribution float64
		if err := rows.Scan(&tool, &compute, &api, &human, &severity, &contribution); err != nil {
			return CostReport{}, fmt.Errorf("scanning cost report row: %w", err)
		}
		total := compute + api + human
		value, ok := severityValues[severity]
		if !ok {
			value = severityValues["medium"]
		}
		report.CostByTool[tool] += total
		report.TotalCost += total
		report.TotalValue += value * contribution
		report.ActionCount++
	}
	if err := rows.Err(); err != nil {
		return CostReport{}, err
	}
	divisor := report.TotalCost
	if divisor < 0.01 {
		divisor = 0.01
	}
	report.OverallROI = report.TotalValue / divisor

	report.BudgetStatus, err = s.allBudgets(ctx)
	if err != nil {
		return CostReport{}, err
	}
	return report, nil
}

// GetToolROIRankings ranks every tool seen by average ROI, most
// profitable first.
func (s *Store) GetToolROIRankings(ctx context.Context) ([]ToolROI, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT tool, compute_cost, api_cost, human_time_cost, incident_severity, resolution_contribution
		FROM action_costs
	`)
	if err != nil {
		return nil, fmt.Errorf("querying roi rankings: %w", err)
	}
	defer rows.Close()

	type acc struct {
		totalROI float64
		count    int
	}
	byTool := map[string]*acc{}
	for rows.Next() {
		var tool, severity string
		var compute, api, human, contribution float64
		if err := rows.Scan(&tool, &compute, &api, &human, &severity, &contribution); err != nil {
			return nil, fmt.Errorf("scanning roi row: %w", err)
		}
		c := ActionCost{Tool: tool, ComputeCost: compute, APICost: api, HumanTimeCost: human, IncidentSeverity: severity, ResolutionContribution: contribution}
		a, ok := byTool[tool]
		if !ok {
			a = &acc{}
			byTool[tool] = a
		}
		a.totalROI += c.ROI()
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rankings := make([]ToolROI, 0, len(byTool))
	for tool, a := range byTool {
		count := a.count
		if count == 0 {
			count = 1
		}
		rankings = append(rankings, ToolROI{Tool: tool, AvgROI: a.totalROI / float64(count), Count: a.count})
	}
	for i := 0; i < len(rankings); i++ {
		for j := i + 1; j < len(rankings); j++ {
			if rankings[j].AvgROI > rankings[i].AvgROI {
				rankings[i], rankings[j] = rankings[j], rankings[i]
			}
		}
	}
	return rankings, nil
}

func (s *Store) allBudgets(ctx context.Context) (map[string]CostBudget, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT tenant_id, budget_id, daily_limit, monthly_limit, daily_used, monthly_used, period_start, last_reset
		FROM cost_budgets
	`)
	if err != nil {
		return nil, fmt.Errorf("querying budgets: %w", err)
	}
	defer rows.Close()

	out := map[string]CostBudget{}
	for rows.Next() {
		var b CostBudget
		if err := rows.Scan(&b.TenantID, &b.BudgetID, &b.DailyLimit, &b.MonthlyLimit, &b.DailyUsed, &b.MonthlyUsed, &b.PeriodStart, &b.LastReset); err != nil {
			return nil, fmt.Errorf("scanning budget row: %w", err)
		}
		out[b.TenantID] = b
	}
	return out, rows.Err()
}

// writeSnapshot refreshes budgets.json from the authoritative Postgres
// state. The original implementation persists only budgets to disk,
// never the cost history; this keeps the same external contract so
// other tooling reading budgets.json off disk is unaffected by the
// Postgres-backed rewrite.
func (s *Store) writeSnapshot(ctx context.Context) error {
	budgets, err := s.allBudgets(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(budgets, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling budgets snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.storagePath, "budgets.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing budgets snapshot: %w", err)
	}
	return nil
}
