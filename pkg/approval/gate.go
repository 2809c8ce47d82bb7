package approval

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeready-toolchain/opsagent/pkg/database"
	"github.com/codeready-toolchain/opsagent/pkg/tool"
	"github.com/google/uuid"
)

//go:embed migrations
var migrationsFS embed.FS

// Gate manages approval requests against Postgres, the authoritative
// queue, while also polling a directory of legacy `.approve` files, named
// either `<approval_id>.approve` or `<agent_id>.approve`, as a secondary
// signal (§9 Open Question: "both... the queue is
// authoritative, the file is polled").
type Gate struct {
	client  *database.Client
	policy  Policy
	fileDir string
	mu      sync.Mutex
	waiters map[string]*sync.Cond
}

// Open connects to Postgres, applies the approval queue's migrations,
// and prepares fileDir for legacy file-based approvals.
func Open(ctx context.Context, cfg database.Config, fileDir string, policy Policy) (*Gate, error) {
	client, err := database.NewClient(ctx, cfg, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening approval gate database: %w", err)
	}
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating approval file sink dir %s: %w", fileDir, err)
	}
	return &Gate{
		client:  client,
		policy:  policy,
		fileDir: fileDir,
		waiters: make(map[string]*sync.Cond),
	}, nil
}

// condFor returns the condition variable for approvalID, creating one if
// this is the first waiter or resolver to touch it in this process.
func (g *Gate) condFor(approvalID string) *sync.Cond {
	g.mu.Lock()
	defer g.mu.Unlock()
	cond, ok := g.waiters[approvalID]
	if !ok {
		cond = sync.NewCond(&g.mu)
		g.waiters[approvalID] = cond
	}
	return cond
}

// Close releases the underlying connection pool.
func (g *Gate) Close() error {
	return g.client.Close()
}

// SetPolicy replaces the active approval policy.
func (g *Gate) SetPolicy(policy Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// CheckApproval decides whether actionData needs human sign-off. It
// returns (true, "") when auto-approved, or (false, requestID) when a
// request was created and is pending (§4.7).
func (g *Gate) CheckApproval(ctx context.Context, agentID string, actionData map[string]any, riskLevel tool.RiskLevel, approvalCtx map[string]any) (bool, string, error) {
	g.mu.Lock()
	policy := g.policy
	g.mu.Unlock()

	if policy.isSensitivePath(actionData) {
		req, err := g.createRequest(ctx, agentID, actionData, approvalCtx, tool.RiskHigh)
		if err != nil {
			return false, "", err
		}
		return false, req.ID, nil
	}

	if riskLevel == tool.RiskLow && policy.AutoApproveLowRisk {
		return true, "", nil
	}
	if riskLevel == tool.RiskMedium && policy.AutoApproveMediumRisk {
		return true, "", nil
	}
	if policy.isTrusted(approvalCtx) {
		return true, "", nil
	}

	req, err := g.createRequest(ctx, agentID, actionData, approvalCtx, riskLevel)
	if err != nil {
		return false, "", err
	}
	return false, req.ID, nil
}

func (g *Gate) createRequest(ctx context.Context, agentID string, actionData, approvalCtx map[string]any, riskLevel tool.RiskLevel) (Request, error) {
	g.mu.Lock()
	timeout := g.policy.ApprovalTimeoutSeconds
	g.mu.Unlock()

	now := time.Now()
	req := Request{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		ActionData: actionData,
		Context:    approvalCtx,
		RiskLevel:  riskLevel,
		Status:     Pending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(timeout) * time.Second),
	}

	actionJSON, err := json.Marshal(req.ActionData)
	if err != nil {
		return Request{}, fmt.Errorf("marshaling action data: %w", err)
	}
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return Request{}, fmt.Errorf("marshaling approval context: %w", err)
	}

	_, err = g.client.DB().ExecContext(ctx, `
		INSERT INTO approval_requests (id, agent_id, action_data, context, risk_level, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.AgentID, string(actionJSON), string(contextJSON), string(req.RiskLevel), string(req.Status), req.CreatedAt, req.ExpiresAt)
	if err != nil {
		return Request{}, fmt.Errorf("creating approval request: %w", err)
	}

	g.condFor(req.ID)

	return req, nil
}

// Approve grants approval_id if it is still pending and unexpired.
func (g *Gate) Approve(ctx context.Context, approvalID, approver string) (bool, error) {
	return g.resolve(ctx, approvalID, Approved, approver, "")
}

// Reject denies approval_id if it is still pending.
func (g *Gate) Reject(ctx context.Context, approvalID, reason, rejector string) (bool, error) {
	return g.resolve(ctx, approvalID, Rejected, rejector, reason)
}

func (g *Gate) resolve(ctx context.Context, approvalID string, status Status, actor, reason string) (bool, error) {
	req, err := g.getByID(ctx, approvalID)
	if err != nil {
		return false, err
	}
	if req == nil || req.Status != Pending {
		return false, nil
	}
	if req.IsExpired(time.Now()) {
		_, err := g.client.DB().ExecContext(ctx, `UPDATE approval_requests SET status = $2 WHERE id = $1`, approvalID, string(Expired))
		return false, err
	}

	now := time.Now()
	var err2 error
	switch status {
	case Approved:
		_, err2 = g.client.DB().ExecContext(ctx, `
			UPDATE approval_requests SET status = $2, approved_at = $3, approved_by = $4 WHERE id = $1
		`, approvalID, string(Approved), now, actor)
	case Rejected:
		_, err2 = g.client.DB().ExecContext(ctx, `
			UPDATE approval_requests SET status = $2, rejected_at = $3, rejected_by = $4, rejection_reason = $5 WHERE id = $1
		`, approvalID, string(Rejected), now, actor, reason)
	}
	if err2 != nil {
		return false, fmt.Errorf("resolving approval %s: %w", approvalID, err2)
	}

	g.condFor(approvalID).Broadcast()

	return true, nil
}

// CheckStatus returns the current request, lazily marking it expired if
// its deadline has passed.
func (g *Gate) CheckStatus(ctx context.Context, approvalID string) (*Request, error) {
	req, err := g.getByID(ctx, approvalID)
	if err != nil || req == nil {
		return req, err
	}
	if req.Status == Pending && req.IsExpired(time.Now()) {
		_, err := g.client.DB().ExecContext(ctx, `UPDATE approval_requests SET status = $2 WHERE id = $1`, approvalID, string(Expired))
		if err != nil {
			return nil, err
		}
		req.Status = Expired
	}
	return req, nil
}

// IsApproved reports whether approvalID currently has Approved status.
func (g *Gate) IsApproved(ctx context.Context, approvalID string) (bool, error) {
	req, err := g.CheckStatus(ctx, approvalID)
	if err != nil || req == nil {
		return false, err
	}
	return req.Status == Approved, nil
}

// GetPendingApprovals returns every still-pending, unexpired request.
func (g *Gate) GetPendingApprovals(ctx context.Context) ([]Request, error) {
	rows, err := g.client.DB().QueryContext(ctx, `SELECT id FROM approval_requests WHERE status = $1`, string(Pending))
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Request
	for _, id := range ids {
		req, err := g.CheckStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if req != nil && req.Status == Pending {
			out = append(out, *req)
		}
	}
	return out, nil
}

// WaitForApproval blocks until approvalID resolves (approved, rejected,
// or expired) or ctx is done. A decision made by this process wakes the
// wait immediately through a condition variable; pollInterval bounds how
// long it can otherwise take to notice a decision made by another
// process (a different opsagent instance updating Postgres directly) or
// via the legacy file sink.
func (g *Gate) WaitForApproval(ctx context.Context, approvalID string, pollInterval time.Duration) (*Request, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	cond := g.condFor(approvalID)

	woken := make(chan struct{})
	go func() {
		g.mu.Lock()
		cond.Wait()
		g.mu.Unlock()
		close(woken)
	}()

	var agentID string
	for {
		fileStatus, ok := g.pollFileSink(approvalID)
		if !ok && agentID != "" {
			fileStatus, ok = g.pollFileSink(agentID)
		}
		if ok {
			if fileStatus == Approved {
				_, _ = g.Approve(ctx, approvalID, "file-sink")
			} else if fileStatus == Rejected {
				_, _ = g.Reject(ctx, approvalID, "resolved via file sink", "file-sink")
			}
		}

		req, err := g.CheckStatus(ctx, approvalID)
		if err != nil {
			g.condFor(approvalID).Broadcast() // release the waiting goroutine
			return nil, err
		}
		if req == nil {
			g.condFor(approvalID).Broadcast()
			return nil, fmt.Errorf("approval request %s not found", approvalID)
		}
		if req.Status != Pending {
			g.condFor(approvalID).Broadcast()
			return req, nil
		}
		agentID = req.AgentID

		select {
		case <-ctx.Done():
			g.condFor(approvalID).Broadcast()
			return req, ctx.Err()
		case <-woken:
			woken = make(chan struct{})
			go func() {
				g.mu.Lock()
				cond.Wait()
				g.mu.Unlock()
				close(woken)
			}()
		case <-time.After(pollInterval):
		}
	}
}

// pollFileSink checks for a legacy `<id>.approve` file, where id is a
// request id or a request's agent id, and returns the status it encodes.
func (g *Gate) pollFileSink(approvalID string) (Status, bool) {
	path := filepath.Join(g.fileDir, approvalID+".approve")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	switch string(data) {
	case "approved\n", "approved":
		return Approved, true
	case "rejected\n", "rejected":
		return Rejected, true
	default:
		return "", false
	}
}

func (g *Gate) getByID(ctx context.Context, approvalID string) (*Request, error) {
	var req Request
	var actionJSON, contextJSON, risk, status string
	var approvedAt, rejectedAt stdsql.NullTime
	var approvedBy, rejectedBy, rejectionReason stdsql.NullString

	row := g.client.DB().QueryRowContext(ctx, `
		SELECT id, agent_id, action_data, context, risk_level, status, created_at, expires_at,
		       approved_at, approved_by, rejected_at, rejected_by, rejection_reason
		FROM approval_requests WHERE id = $1
	`, approvalID)
	err := row.Scan(&req.ID, &req.AgentID, &actionJSON, &contextJSON, &risk, &status, &req.CreatedAt, &req.ExpiresAt,
		&approvedAt, &approvedBy, &rejectedAt, &rejectedBy, &rejectionReason)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading approval request %s: %w", approvalID, err)
	}

	req.RiskLevel = tool.RiskLevel(risk)
	req.Status = Status(status)
	if err := json.Unmarshal([]byte(actionJSON), &req.ActionData); err != nil {
		return nil, fmt.Errorf("corrupt action data for %s: %w", approvalID, err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &req.Context); err != nil {
		return nil, fmt.Errorf("corrupt context for %s: %w", approvalID, err)
	}
	if approvedAt.Valid {
		req.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		req.RejectedAt = &rejectedAt.Time
	}
	req.ApprovedBy = approvedBy.String
	req.RejectedBy = rejectedBy.String
	req.RejectionReason = rejectionReason.String

	return &req, nil
}
