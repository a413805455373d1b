package process

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// ErrProcessNotFound is returned by Attach when no process with the PID exists.
var ErrProcessNotFound = errors.New("process not found")

// attachPollInterval is how often Join re-checks an attached process.
var attachPollInterval = 100 * time.Millisecond

// Attach returns a handle for a running process that was not started by this
// package. Only the process itself is signalled, never its group.
func Attach(pid int) (runtime.Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("attach pid %d: %w", pid, ErrProcessNotFound)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("attach pid %d: %w", pid, ErrProcessNotFound)
	}
	if !probeAlive(pid) {
		_ = proc.Release()
		return nil, fmt.Errorf("attach pid %d: %w", pid, ErrProcessNotFound)
	}
	return &attachedHandle{name: fmt.Sprintf("pid-%d", pid), pid: pid, proc: proc}, nil
}

type attachedHandle struct {
	name string
	pid  int
	proc *os.Process
}

func (h *attachedHandle) Name() string { return h.name }

func (h *attachedHandle) Pid() int { return h.pid }

func (h *attachedHandle) Alive() bool { return probeAlive(h.pid) }

func (h *attachedHandle) Terminate() error {
	if !h.Alive() {
		return nil
	}
	return terminate(h.proc, h.pid, false)
}

func (h *attachedHandle) Kill() error {
	if !h.Alive() {
		return nil
	}
	return kill(h.proc, h.pid, false)
}

// Join polls until the process is gone. Zombies of foreign parents still
// answer signal 0, so callers should only attach to processes whose parent
// reaps them.
func (h *attachedHandle) Join() error {
	for h.Alive() {
		time.Sleep(attachPollInterval)
	}
	return h.proc.Release()
}
