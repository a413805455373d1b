package procmgr

import (
	"context"

	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// RankManager supervises symmetric peer ranks. Losing any rank tears down
// the rest.
type RankManager struct {
	*Supervisor
}

// NewRankManager builds a peer supervisor.
func NewRankManager(opts ...Option) *RankManager {
	return &RankManager{Supervisor: newSupervisor(opts...)}
}

// SetRanks replaces the supervised ranks, in rank order.
func (m *RankManager) SetRanks(hs []runtime.Handle) {
	m.setProcesses(compact(hs))
}

// SetProcesses is an alias for SetRanks.
func (m *RankManager) SetProcesses(hs []runtime.Handle) { m.SetRanks(hs) }

// MonitorAndJoin blocks until every rank has exited or been killed and all
// of them have been joined. Cancelling ctx requests a graceful shutdown.
func (m *RankManager) MonitorAndJoin(ctx context.Context) Result {
	return m.monitor(ctx)
}

// MonitorAndRelease is an alias for MonitorAndJoin.
func (m *RankManager) MonitorAndRelease(ctx context.Context) Result {
	return m.MonitorAndJoin(ctx)
}
