// Package killswitch implements the process-wide kill switch (§3, §5,
// §6): a monotonic flag that, once active, stays active for the
// process's lifetime unless an operator explicitly resets it. Every
// suspension point in the Autonomy Loop (model call, approval wait,
// shadow simulation) polls IsActive and unblocks as soon as it flips.
//
// A single process's flag is locally authoritative. When a Redis
// address is configured, Activate also publishes on a shared channel so
// every other replica's local flag flips too (§9: "a real deployment
// runs many incidents across many replicas"), mirroring the teacher's
// own Postgres LISTEN/NOTIFY fan-out in pkg/events but over Redis
// pub/sub, since the kill switch has no transactional relationship to
// the approval/economic Postgres stores. A deployment with no Redis
// reachable still works correctly within a single process; Redis is
// best-effort fan-out only.
package killswitch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel the kill switch broadcasts on.
const Channel = "opsagent:killswitch"

// Switch is a process-wide, cross-process-aware kill switch.
type Switch struct {
	active atomic.Bool

	mu     sync.Mutex
	rdb    *redis.Client
	cancel context.CancelFunc
}

// New returns a Switch with no cross-process fan-out. Safe for
// single-process deployments and tests.
func New() *Switch {
	return &Switch{}
}

// NewWithRedis returns a Switch that also subscribes to Channel on rdb
// so an Activate call made by any other process sharing the same Redis
// instance flips this process's local flag too. The subscription runs
// in a background goroutine until ctx is canceled or Close is called.
func NewWithRedis(ctx context.Context, rdb *redis.Client) *Switch {
	s := &Switch{rdb: rdb}
	subCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sub := rdb.Subscribe(subCtx, Channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg != nil {
					slog.Warn("kill switch activated via redis fan-out")
					s.active.Store(true)
				}
			}
		}
	}()

	return s
}

// IsActive reports whether the kill switch has been tripped. Once true,
// it never returns to false except via Reset (§3: "monotonic — once
// true, stays true for the process lifetime unless explicitly reset by
// an operator").
func (s *Switch) IsActive() bool {
	return s.active.Load()
}

// Activate trips the switch locally and, if Redis is configured,
// publishes on Channel so other replicas trip theirs too. Publishing is
// best-effort: a Redis outage does not prevent the local activation
// from taking effect, since every suspension point in this process
// checks the local flag directly.
func (s *Switch) Activate(ctx context.Context) {
	wasActive := s.active.Swap(true)
	if wasActive {
		return
	}
	slog.Warn("kill switch activated")

	s.mu.Lock()
	rdb := s.rdb
	s.mu.Unlock()
	if rdb == nil {
		return
	}
	if err := rdb.Publish(ctx, Channel, "activated").Err(); err != nil {
		slog.Error("kill switch: failed to publish activation to redis", "error", err)
	}
}

// Reset clears the switch. This is an operator-only escape hatch (the
// `reset-kill-switch` cobra subcommand) — nothing in the autonomy loop
// or policy engine ever calls it.
func (s *Switch) Reset() {
	s.active.Store(false)
}

// Close stops the background Redis subscription, if any.
func (s *Switch) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
