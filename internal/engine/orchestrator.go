package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jianglan89/rtp-llm/internal/config"
	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/procmgr"
	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// Runner is the surface shared by the grouped and peer supervisors.
type Runner interface {
	MonitorAndRelease(ctx context.Context) procmgr.Result
	GracefulShutdown()
	ShutdownRequested() bool
	InstallSignalHandlers() (stop func())
	State() procmgr.State
	Snapshot() procmgr.Status
	Done() <-chan struct{}
}

var (
	_ Runner = (*procmgr.ServerManager)(nil)
	_ Runner = (*procmgr.RankManager)(nil)
)

// Orchestrator launches a topology through the runtime registry and hands the
// resulting handles to the matching supervisor.
type Orchestrator struct {
	runtimes runtime.Registry
	logger   zerolog.Logger
}

// NewOrchestrator constructs an orchestrator backed by the provided runtime
// registry.
func NewOrchestrator(reg runtime.Registry) *Orchestrator {
	return &Orchestrator{runtimes: reg.Clone(), logger: log.WithComponent("engine")}
}

// SupervisorOptions derives supervisor timings from the topology. Later
// options in extra override them.
func SupervisorOptions(doc *config.Topology, extra ...procmgr.Option) []procmgr.Option {
	opts := []procmgr.Option{
		procmgr.WithTopology(doc.Name),
		procmgr.WithShutdownTimeout(doc.Supervisor.ShutdownTimeout.Duration),
		procmgr.WithPollInterval(doc.Supervisor.PollInterval.Duration),
	}
	return append(opts, extra...)
}

// Up starts every process of the topology in registration order. When a
// process fails to start, the runner is still returned holding the handles
// that did start, with shutdown already requested, alongside the error. The
// caller must run MonitorAndRelease on it so those processes are torn down.
func (o *Orchestrator) Up(ctx context.Context, doc *config.Topology, opts ...procmgr.Option) (Runner, error) {
	if doc == nil {
		return nil, errors.New("topology document is nil")
	}
	opts = SupervisorOptions(doc, opts...)

	switch doc.Kind() {
	case config.KindServer:
		return o.upServer(ctx, doc, opts)
	case config.KindRanks:
		return o.upRanks(ctx, doc, opts)
	default:
		return nil, errors.New("topology must define either server or ranks")
	}
}

func (o *Orchestrator) upServer(ctx context.Context, doc *config.Topology, opts []procmgr.Option) (Runner, error) {
	mgr := procmgr.NewServerManager(opts...)
	backendInst, frontendInsts := doc.ExpandServer()

	if backendInst != nil {
		backend, err := o.start(ctx, *backendInst)
		if err != nil {
			mgr.GracefulShutdown()
			return mgr, err
		}
		mgr.SetBackend(backend)
	}

	frontends := make([]runtime.Handle, 0, len(frontendInsts))
	for _, inst := range frontendInsts {
		h, err := o.start(ctx, inst)
		if err != nil {
			mgr.SetFrontends(frontends)
			mgr.GracefulShutdown()
			return mgr, err
		}
		frontends = append(frontends, h)
	}
	mgr.SetFrontends(frontends)
	return mgr, nil
}

func (o *Orchestrator) upRanks(ctx context.Context, doc *config.Topology, opts []procmgr.Option) (Runner, error) {
	mgr := procmgr.NewRankManager(opts...)
	instances := doc.ExpandRanks()

	ranks := make([]runtime.Handle, 0, len(instances))
	for _, inst := range instances {
		h, err := o.start(ctx, inst)
		if err != nil {
			mgr.SetRanks(ranks)
			mgr.GracefulShutdown()
			return mgr, err
		}
		ranks = append(ranks, h)
	}
	mgr.SetRanks(ranks)
	return mgr, nil
}

func (o *Orchestrator) start(ctx context.Context, inst config.Instance) (runtime.Handle, error) {
	spec := buildStartSpec(inst)
	h, err := o.runtimes.Start(ctx, inst.Spec.Runtime, spec)
	if err != nil {
		o.logger.Error().Err(err).
			Str(log.FieldProcess, inst.Name).
			Str(log.FieldRuntime, inst.Spec.Runtime).
			Msg("failed to start process")
		return nil, fmt.Errorf("start %s: %w", inst.Name, err)
	}
	o.logger.Debug().
		Str(log.FieldProcess, h.Name()).
		Int(log.FieldPid, h.Pid()).
		Str(log.FieldRuntime, inst.Spec.Runtime).
		Msg("process registered")
	return h, nil
}

func buildStartSpec(inst config.Instance) runtime.StartSpec {
	spec := runtime.StartSpec{Name: inst.Name}
	svc := inst.Spec
	if svc == nil {
		return spec
	}
	spec.Image = svc.Image
	if len(svc.Command) > 0 {
		spec.Command = append([]string(nil), svc.Command...)
	}
	if len(inst.Env) > 0 {
		env := make(map[string]string, len(inst.Env))
		for k, v := range inst.Env {
			env[k] = v
		}
		spec.Env = env
	}
	if len(svc.Ports) > 0 {
		spec.Ports = append([]string(nil), svc.Ports...)
	}
	spec.Workdir = svc.ResolvedWorkdir
	if svc.Resources != nil {
		spec.Resources = &runtime.Resources{CPU: svc.Resources.CPU, Memory: svc.Resources.Memory}
	}
	return spec
}
