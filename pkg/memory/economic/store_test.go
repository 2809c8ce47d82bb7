package economic

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}

	store, err := Open(ctx, cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetBudgetAndCanAffordAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetBudget(ctx, "tenant-a", 0.05, 1.0)
	require.NoError(t, err)

	ok, reason, err := s.CanAffordAction(ctx, "tenant-a", "rollback_deploy")
	require.NoError(t, err)
	assert.True(t, ok, reason)

	ok, reason, err = s.CanAffordAction(ctx, "tenant-a", "rollback_deploy")
	require.NoError(t, err)
	assert.True(t, ok, reason)
}

func TestRecordActionCostDebitsBudgetAndBlocksOverspend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetBudget(ctx, "tenant-b", 0.03, 1.0)
	require.NoError(t, err)

	_, err = s.RecordActionCost(ctx, "tenant-b", ActionCost{
		ActionID: "act-1", Tool: "rollback_deploy", IncidentSeverity: "high", ResolutionContribution: 0.5,
	})
	require.NoError(t, err)

	budget, ok, err := s.GetBudget(ctx, "tenant-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.05, budget.DailyUsed, 1e-9)

	ok, reason, err := s.CanAffordAction(ctx, "tenant-b", "rollback_deploy")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "daily budget exhausted")
}

func TestCanAffordActionWithNoBudgetIsUnconstrained(t *testing.T) {
	s := newTestStore(t)
	ok, reason, err := s.CanAffordAction(context.Background(), "no-budget-tenant", "escalate")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "no budget set", reason)
}

func TestGetToolROIRankingsOrdersByAverageROI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordActionCost(ctx, "tenant-c", ActionCost{
		ActionID: "act-low-roi", Tool: "llm_call_large", IncidentSeverity: "low", ResolutionContribution: 0.1,
	})
	require.NoError(t, err)
	_, err = s.RecordActionCost(ctx, "tenant-c", ActionCost{
		ActionID: "act-high-roi", Tool: "get_logs", IncidentSeverity: "critical", ResolutionContribution: 1.0,
	})
	require.NoError(t, err)

	rankings, err := s.GetToolROIRankings(ctx)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, "get_logs", rankings[0].Tool)
}

func TestApplyResetZeroesCountersAcrossPeriodBoundaries(t *testing.T) {
	yesterday := time.Now().AddDate(0, 0, -1)
	b := CostBudget{DailyUsed: 50, MonthlyUsed: 50, PeriodStart: yesterday, LastReset: yesterday}
	reset := applyReset(b, time.Now())
	assert.Equal(t, 0.0, reset.DailyUsed)

	lastMonth := time.Now().AddDate(0, -1, 0)
	b2 := CostBudget{DailyUsed: 10, MonthlyUsed: 50, PeriodStart: lastMonth, LastReset: time.Now()}
	reset2 := applyReset(b2, time.Now())
	assert.Equal(t, 0.0, reset2.MonthlyUsed)
}
