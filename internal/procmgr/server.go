package procmgr

import (
	"context"
	"sync"

	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// ServerManager supervises one backend engine and its frontend servers. The
// backend is registered first so it is terminated, killed and joined first.
type ServerManager struct {
	*Supervisor

	mu        sync.Mutex
	backend   runtime.Handle
	frontends []runtime.Handle
}

// NewServerManager builds a grouped supervisor.
func NewServerManager(opts ...Option) *ServerManager {
	return &ServerManager{Supervisor: newSupervisor(opts...)}
}

// SetBackend registers the backend handle. A nil handle is ignored.
func (m *ServerManager) SetBackend(h runtime.Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = h
	m.rebuildLocked()
}

// SetFrontends replaces the frontend handles. An empty list is ignored.
func (m *ServerManager) SetFrontends(hs []runtime.Handle) {
	hs = compact(hs)
	if len(hs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frontends = hs
	m.rebuildLocked()
}

// SetBackendProcess is an alias for SetBackend.
func (m *ServerManager) SetBackendProcess(h runtime.Handle) { m.SetBackend(h) }

// SetFrontendProcesses is an alias for SetFrontends.
func (m *ServerManager) SetFrontendProcesses(hs []runtime.Handle) { m.SetFrontends(hs) }

// MonitorAndRelease blocks until the backend and every frontend have exited
// or been killed, and all of them have been joined. Cancelling ctx requests
// a graceful shutdown; it never cuts the shutdown itself short.
func (m *ServerManager) MonitorAndRelease(ctx context.Context) Result {
	return m.monitor(ctx)
}

func (m *ServerManager) rebuildLocked() {
	procs := make([]runtime.Handle, 0, len(m.frontends)+1)
	if m.backend != nil {
		procs = append(procs, m.backend)
	}
	procs = append(procs, m.frontends...)
	m.setProcesses(procs)
}

func compact(hs []runtime.Handle) []runtime.Handle {
	out := make([]runtime.Handle, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
