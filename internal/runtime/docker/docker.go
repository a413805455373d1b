package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/resources"
	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// RuntimeName is the registry key of the Docker launcher.
const RuntimeName = "docker"

// LabelProcess marks containers started by rtpsup with their process name.
const LabelProcess = "io.rtpsup.process"

const apiTimeout = 10 * time.Second

func init() {
	runtime.Register(RuntimeName, func() runtime.Launcher { return New() })
}

// containerAPI is the subset of the Docker client used by container handles.
type containerAPI interface {
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

type launcher struct {
	client     *client.Client
	clientOnce sync.Once
	clientErr  error
	logger     zerolog.Logger
}

// New returns a Docker backed launcher. The client is created lazily so a
// process-only topology never needs a reachable daemon.
func New() runtime.Launcher {
	return &launcher{logger: log.WithComponent("docker")}
}

func (l *launcher) getClient() (*client.Client, error) {
	l.clientOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			l.clientErr = err
			return
		}
		l.client = cli
	})
	return l.client, l.clientErr
}

func (l *launcher) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("docker runtime for %s requires an image", spec.Name)
	}

	cli, err := l.getClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, err := buildConfigs(spec)
	if err != nil {
		return nil, err
	}

	createResp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create %s: %w", spec.Name, err)
	}
	id := createResp.ID

	if err := cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		_ = cli.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("container start %s: %w", spec.Name, err)
	}

	pid := 0
	if info, err := cli.ContainerInspect(ctx, id); err == nil && info.State != nil {
		pid = info.State.Pid
	}

	h := newContainerHandle(cli, spec.Name, id, pid)
	h.startWaiter()
	h.startLogStreamer(cli, l.logger)

	l.logger.Info().
		Str(log.FieldProcess, spec.Name).
		Str(log.FieldContainer, shortID(id)).
		Int(log.FieldPid, pid).
		Str("image", spec.Image).
		Msg("container started")
	return h, nil
}

type containerHandle struct {
	api  containerAPI
	name string
	id   string
	pid  int

	exited  chan struct{}
	waitErr error
	status  int64

	logCancel context.CancelFunc
	logDone   chan struct{}

	joinOnce sync.Once
	joinErr  error
}

var _ runtime.Handle = (*containerHandle)(nil)

func newContainerHandle(api containerAPI, name, id string, pid int) *containerHandle {
	return &containerHandle{
		api:     api,
		name:    name,
		id:      id,
		pid:     pid,
		exited:  make(chan struct{}),
		logDone: make(chan struct{}),
	}
}

func (h *containerHandle) startWaiter() {
	statusCh, errCh := h.api.ContainerWait(context.Background(), h.id, container.WaitConditionNotRunning)
	go func() {
		defer close(h.exited)
		select {
		case err := <-errCh:
			h.waitErr = err
		case resp := <-statusCh:
			h.status = resp.StatusCode
			if resp.Error != nil && resp.Error.Message != "" {
				h.waitErr = errors.New(resp.Error.Message)
			}
		}
	}()
}

func (h *containerHandle) startLogStreamer(cli *client.Client, logger zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	h.logCancel = cancel
	go func() {
		defer close(h.logDone)
		reader, err := cli.ContainerLogs(ctx, h.id, types.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldProcess, h.name).Msg("container log stream unavailable")
			return
		}
		defer reader.Close()

		stdout := runtime.NewLogWriter(logger, h.name, runtime.LogSourceStdout)
		stderr := runtime.NewLogWriter(logger, h.name, runtime.LogSourceStderr)
		_, _ = stdcopy.StdCopy(stdout, stderr, reader)
		_ = stdout.Close()
		_ = stderr.Close()
	}()
}

func (h *containerHandle) Name() string { return h.name }

func (h *containerHandle) Pid() int { return h.pid }

func (h *containerHandle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

func (h *containerHandle) Terminate() error {
	return h.signal("SIGTERM")
}

func (h *containerHandle) Kill() error {
	return h.signal("SIGKILL")
}

func (h *containerHandle) signal(sig string) error {
	if !h.Alive() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()
	if err := h.api.ContainerKill(ctx, h.id, sig); err != nil && !isGone(err) {
		return fmt.Errorf("signal container %s with %s: %w", h.name, sig, err)
	}
	return nil
}

// Join waits for the container to stop and removes it.
func (h *containerHandle) Join() error {
	h.joinOnce.Do(func() {
		<-h.exited
		if h.logCancel != nil {
			h.logCancel()
			<-h.logDone
		}
		ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		removeErr := h.api.ContainerRemove(ctx, h.id, types.ContainerRemoveOptions{Force: true})
		if removeErr != nil && client.IsErrNotFound(removeErr) {
			removeErr = nil
		}
		if h.waitErr != nil {
			h.joinErr = fmt.Errorf("wait container %s: %w", h.name, h.waitErr)
			return
		}
		if removeErr != nil {
			h.joinErr = fmt.Errorf("remove container %s: %w", h.name, removeErr)
		}
	})
	return h.joinErr
}

// isGone reports errors Docker returns for a container that already exited
// or was removed.
func isGone(err error) bool {
	return client.IsErrNotFound(err) || errdefs.IsConflict(err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	reader, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func buildConfigs(spec runtime.StartSpec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, portSpec := range spec.Ports {
		mappings, err := nat.ParsePortSpec(portSpec)
		if err != nil {
			return nil, nil, fmt.Errorf("parse port %q: %w", portSpec, err)
		}
		for _, mapping := range mappings {
			exposed[mapping.Port] = struct{}{}
			bindings[mapping.Port] = append(bindings[mapping.Port], mapping.Binding)
		}
	}

	var cmd strslice.StrSlice
	if len(spec.Command) > 0 {
		cmd = append(strslice.StrSlice(nil), spec.Command...)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          cmd,
		WorkingDir:   spec.Workdir,
		ExposedPorts: exposed,
		Labels:       map[string]string{LabelProcess: spec.Name},
	}
	host := &container.HostConfig{PortBindings: bindings}

	if spec.Resources != nil {
		limits, err := resources.Parse(spec.Resources.CPU, spec.Resources.Memory)
		if err != nil {
			return nil, nil, fmt.Errorf("resources for %s: %w", spec.Name, err)
		}
		host.Resources.NanoCPUs = limits.NanoCPUs
		host.Resources.Memory = limits.Memory
	}
	return cfg, host, nil
}
