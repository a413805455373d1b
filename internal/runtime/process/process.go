package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// RuntimeName is the registry key of the local process launcher.
const RuntimeName = "process"

// waitDelay bounds how long Join waits for output pipes held open by
// descendants that left the process group.
const waitDelay = 2 * time.Second

func init() {
	runtime.Register(RuntimeName, func() runtime.Launcher { return New() })
}

type launcher struct {
	logger zerolog.Logger
}

// New constructs a launcher that executes processes locally.
func New() runtime.Launcher {
	return &launcher{logger: log.WithComponent("process")}
}

func (l *launcher) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("process runtime for %s requires a command", spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// exec.Command rather than CommandContext: the supervisor alone decides
	// when the process is signalled.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	// The child gets the write ends directly so that Wait returns once the
	// leader is reaped, even while its own children still hold the pipes.
	h := &childHandle{
		name: spec.Name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", spec.Name, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe for %s: %w", spec.Name, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	configureCmdSysProcAttr(cmd)

	startErr := cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, fmt.Errorf("start process %s: %w", spec.Name, startErr)
	}
	h.pid = cmd.Process.Pid

	h.stream(stdoutR, runtime.NewLogWriter(l.logger, spec.Name, runtime.LogSourceStdout))
	h.stream(stderrR, runtime.NewLogWriter(l.logger, spec.Name, runtime.LogSourceStderr))

	l.logger.Info().
		Str(log.FieldProcess, spec.Name).
		Int(log.FieldPid, h.pid).
		Strs("command", spec.Command).
		Msg("process started")

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		l.logger.Debug().
			Str(log.FieldProcess, spec.Name).
			Int(log.FieldPid, h.pid).
			Str(log.FieldSource, runtime.LogSourceSystem).
			Int(log.FieldExitCode, cmd.ProcessState.ExitCode()).
			Msg("process reaped")
		close(h.done)
	}()

	return h, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}

// childHandle is a process started by the launcher.
type childHandle struct {
	name string
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	streams  sync.WaitGroup
	readers  []*os.File
	joinOnce sync.Once

	mu      sync.Mutex
	waitErr error
}

var _ runtime.Handle = (*childHandle)(nil)

// stream copies one output pipe into w until every holder of the write end
// has exited.
func (h *childHandle) stream(r *os.File, w *runtime.LogWriter) {
	h.readers = append(h.readers, r)
	h.streams.Add(1)
	go func() {
		defer h.streams.Done()
		_, _ = io.Copy(w, r)
		_ = w.Close()
	}()
}

func (h *childHandle) Name() string { return h.name }

func (h *childHandle) Pid() int { return h.pid }

func (h *childHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Terminate signals the whole process group. After the leader has exited
// this still reaches any children it left behind.
func (h *childHandle) Terminate() error {
	if !h.Alive() {
		return signalGroup(h.pid, syscall.SIGTERM)
	}
	return terminate(h.cmd.Process, h.pid, true)
}

func (h *childHandle) Kill() error {
	if !h.Alive() {
		return signalGroup(h.pid, syscall.SIGKILL)
	}
	return kill(h.cmd.Process, h.pid, true)
}

// Join waits for the leader, kills whatever is left of its process group and
// drains the output pipes.
func (h *childHandle) Join() error {
	<-h.done
	h.joinOnce.Do(func() {
		_ = signalGroup(h.pid, syscall.SIGKILL)
		drained := make(chan struct{})
		go func() {
			h.streams.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(waitDelay):
			// a descendant outside the group still holds the pipes
			for _, r := range h.readers {
				_ = r.Close()
			}
			<-drained
		}
		for _, r := range h.readers {
			_ = r.Close()
		}
	})

	h.mu.Lock()
	err := h.waitErr
	h.mu.Unlock()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wait %s: %w", h.name, err)
	}
	return nil
}

// ExitCode returns the exit code of an exited process, or -1 while it is
// still running or when it was terminated by a signal.
func (h *childHandle) ExitCode() int {
	if h.Alive() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}
