package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Log sources attached to lines captured from supervised processes.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// ErrUnknownRuntime is returned by Registry.Start for an unregistered runtime name.
var ErrUnknownRuntime = errors.New("unknown runtime")

// Handle is a reference to one running OS-level process (or a container
// standing in for one). The supervisor never creates processes itself; it
// only drives handles it was given.
type Handle interface {
	// Name returns a display name, unique within a topology.
	Name() string

	// Pid returns the host process id, or 0 when unknown.
	Pid() int

	// Alive reports whether the process is still running.
	Alive() bool

	// Terminate issues a cooperative termination request (SIGTERM). The
	// target may ignore or delay it. Terminating an exited process is a no-op.
	Terminate() error

	// Kill issues a non-ignorable termination request (SIGKILL). Killing an
	// exited process is a no-op and must not return an error.
	Kill() error

	// Join blocks until the process has exited and releases any resources
	// held for it. A non-zero exit status is not an error.
	Join() error
}

// StartSpec describes a process to launch.
type StartSpec struct {
	Name      string
	Image     string
	Command   []string
	Env       map[string]string
	Workdir   string
	Ports     []string
	Resources *Resources
}

// Resources carries optional container resource limits.
type Resources struct {
	CPU    string
	Memory string
}

// Launcher starts processes and returns handles for them.
type Launcher interface {
	// Start launches the provided process and returns a handle to it. The
	// context bounds the launch only; cancelling it later does not stop the
	// process.
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}

// Registry maps runtime identifiers to their launchers.
type Registry map[string]Launcher

// Clone returns a shallow copy of the registry, allowing callers to avoid
// accidental mutation of shared maps.
func (r Registry) Clone() Registry {
	dup := make(Registry, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup
}

// Start launches spec with the launcher registered under name.
func (r Registry) Start(ctx context.Context, name string, spec StartSpec) (Handle, error) {
	launcher, ok := r[name]
	if !ok || launcher == nil {
		return nil, fmt.Errorf("%w %q for process %s", ErrUnknownRuntime, name, spec.Name)
	}
	return launcher.Start(ctx, spec)
}
