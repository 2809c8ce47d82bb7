package approval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/database"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestGate(t *testing.T, policy Policy) *Gate {
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

	gate, err := Open(ctx, cfg, filepath.Join(t.TempDir(), "approvals"), policy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gate.Close() })
	return gate
}

func TestCheckApprovalAutoApprovesLowRiskUnderPolicy(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	approved, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "staging"}, tool.RiskLow, nil)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Empty(t, requestID)
}

func TestCheckApprovalCreatesPendingRequestForMediumRisk(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	approved, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "staging"}, tool.RiskMedium, nil)
	require.NoError(t, err)
	assert.False(t, approved)
	require.NotEmpty(t, requestID)

	req, err := g.CheckStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Pending, req.Status)
}

func TestCheckApprovalForcesHighRiskForSensitivePath(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	approved, requestID, err := g.CheckApproval(ctx, "agent-1",
		map[string]any{"file_path": "/etc/passwd"}, tool.RiskLow, nil)
	require.NoError(t, err)
	assert.False(t, approved)
	require.NotEmpty(t, requestID)

	req, err := g.CheckStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, tool.RiskHigh, req.RiskLevel)
}

func TestCheckApprovalTrustsConfiguredSources(t *testing.T) {
	policy := DefaultPolicy()
	policy.TrustedSources = []string{"ci-pipeline"}
	g := newTestGate(t, policy)
	ctx := context.Background()

	approved, requestID, err := g.CheckApproval(ctx, "agent-1",
		map[string]any{"target": "prod"}, tool.RiskHigh, map[string]any{"source": "ci-pipeline"})
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Empty(t, requestID)
}

func TestApproveResolvesRequestAndIsIdempotentAfterward(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	_, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod"}, tool.RiskHigh, nil)
	require.NoError(t, err)

	ok, err := g.Approve(ctx, requestID, "oncall-human")
	require.NoError(t, err)
	assert.True(t, ok)

	approved, err := g.IsApproved(ctx, requestID)
	require.NoError(t, err)
	assert.True(t, approved)

	ok, err = g.Reject(ctx, requestID, "too late", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectRecordsReasonAndRejector(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	_, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod"}, tool.RiskCritical, nil)
	require.NoError(t, err)

	ok, err := g.Reject(ctx, requestID, "blast radius too large", "oncall-human")
	require.NoError(t, err)
	assert.True(t, ok)

	req, err := g.CheckStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Rejected, req.Status)
	assert.Equal(t, "blast radius too large", req.RejectionReason)
	assert.Equal(t, "oncall-human", req.RejectedBy)
}

func TestCheckStatusExpiresStaleRequests(t *testing.T) {
	policy := DefaultPolicy()
	policy.ApprovalTimeoutSeconds = 0
	g := newTestGate(t, policy)
	ctx := context.Background()

	_, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod"}, tool.RiskHigh, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	req, err := g.CheckStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Expired, req.Status)
}

func TestGetPendingApprovalsOnlyReturnsPending(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	_, pendingID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod-a"}, tool.RiskHigh, nil)
	require.NoError(t, err)
	_, resolvedID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod-b"}, tool.RiskHigh, nil)
	require.NoError(t, err)
	_, err = g.Approve(ctx, resolvedID, "human")
	require.NoError(t, err)

	pending, err := g.GetPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].ID)
}

func TestWaitForApprovalReturnsOnceApproved(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	_, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod"}, tool.RiskHigh, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = g.Approve(context.Background(), requestID, "human")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := g.WaitForApproval(waitCtx, requestID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Approved, req.Status)
}

func TestWaitForApprovalHonorsLegacyFileSink(t *testing.T) {
	g := newTestGate(t, DefaultPolicy())
	ctx := context.Background()

	_, requestID, err := g.CheckApproval(ctx, "agent-1", map[string]any{"target": "prod"}, tool.RiskHigh, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		path := filepath.Join(g.fileDir, requestID+".approve")
		_ = os.WriteFile(path, []byte("approved"), 0o644)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := g.WaitForApproval(waitCtx, requestID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Approved, req.Status)
}
