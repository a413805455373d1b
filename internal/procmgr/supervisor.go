package procmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/metrics"
	"github.com/jianglan89/rtp-llm/internal/runtime"
)

// Defaults for the shutdown protocol.
const (
	DefaultShutdownTimeout = 50 * time.Second
	DefaultPollInterval    = time.Second
)

// exitCoder is implemented by handles that know their exit status.
type exitCoder interface {
	ExitCode() int
}

// Supervisor is the monitor loop shared by ServerManager and RankManager. It
// owns a flat, ordered list of handles and enforces all-or-nothing liveness
// over it.
type Supervisor struct {
	topology        string
	shutdownTimeout time.Duration
	pollInterval    time.Duration
	logger          zerolog.Logger
	events          chan<- Event
	clock           Clock

	shutdownRequested atomic.Bool

	mu            sync.Mutex
	processes     []runtime.Handle
	state         State
	started       bool
	terminated    bool
	firstDeadTime time.Time
	result        Result
	done          chan struct{}
}

func newSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		shutdownTimeout: DefaultShutdownTimeout,
		pollInterval:    DefaultPollInterval,
		logger:          log.WithComponent("procmgr"),
		clock:           realClock{},
		state:           StateIdle,
		result:          Result{Reason: ReasonNone},
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.topology != "" {
		s.logger = s.logger.With().Str(log.FieldTopology, s.topology).Logger()
	}
	return s
}

// GracefulShutdown requests that every process be terminated. It only flips
// an atomic flag; the monitor loop acts on it at its next tick. Repeated calls
// are no-ops.
func (s *Supervisor) GracefulShutdown() {
	if !s.shutdownRequested.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info().Str(log.FieldEvent, "shutdown_requested").Msg("graceful shutdown requested")
	s.emit(Event{Type: EventTypeShutdownRequested, Reason: ReasonShutdownRequested, Message: "graceful shutdown requested"})
}

// ShutdownRequested reports whether GracefulShutdown has been called.
func (s *Supervisor) ShutdownRequested() bool {
	return s.shutdownRequested.Load()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once a monitor run has joined every process.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the current state together with per-process liveness.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	st := Status{
		Topology:          s.topology,
		State:             s.state,
		Reason:            s.result.Reason,
		ShutdownRequested: s.shutdownRequested.Load(),
		Terminated:        s.terminated,
		ShutdownTimeout:   s.shutdownTimeout,
		PollInterval:      s.pollInterval,
	}
	if !s.firstDeadTime.IsZero() {
		t := s.firstDeadTime
		st.FirstDeadTime = &t
	}
	procs := append([]runtime.Handle(nil), s.processes...)
	s.mu.Unlock()

	st.Processes = make([]ProcessStatus, 0, len(procs))
	for _, p := range procs {
		st.Processes = append(st.Processes, ProcessStatus{Name: p.Name(), Pid: p.Pid(), Alive: p.Alive()})
	}
	return st
}

// setProcesses replaces the supervised list. Changes after monitoring has
// started are ignored.
func (s *Supervisor) setProcesses(procs []runtime.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn().Int(log.FieldProcesses, len(procs)).Msg("ignoring process registration after monitoring started")
		return
	}
	s.processes = procs
}

// monitor runs the loop until every process has exited or been killed, then
// joins them all. A second call returns the first run's result immediately.
func (s *Supervisor) monitor(ctx context.Context) Result {
	s.mu.Lock()
	if s.started {
		res := s.result
		s.mu.Unlock()
		return res
	}
	s.started = true
	procs := append([]runtime.Handle(nil), s.processes...)
	s.mu.Unlock()
	defer close(s.done)

	if len(procs) == 0 {
		s.logger.Info().Msg("no processes registered, nothing to monitor")
		s.setState(StateDone)
		return s.finish(Result{Reason: ReasonNone})
	}

	if ctx != nil {
		stop := context.AfterFunc(ctx, s.GracefulShutdown)
		defer stop()
	}

	metrics.SetSupervised(s.topology, len(procs))
	s.setState(StateMonitoring)
	s.logger.Info().
		Int(log.FieldProcesses, len(procs)).
		Dur(log.FieldTimeout, s.shutdownTimeout).
		Msg("monitoring processes")

	res := Result{Reason: ReasonNone}
	exited := make([]bool, len(procs))
	for {
		alive := 0
		for i, p := range procs {
			if p.Alive() {
				alive++
				continue
			}
			if !exited[i] {
				exited[i] = true
				entry := s.logger.Info().Str(log.FieldProcess, p.Name()).Int(log.FieldPid, p.Pid())
				if ec, ok := p.(exitCoder); ok {
					entry = entry.Int(log.FieldExitCode, ec.ExitCode())
				}
				entry.Msg("process exited")
				s.emit(Event{Type: EventTypeExited, Process: p.Name(), Pid: p.Pid(), Message: "process exited"})
			}
		}
		metrics.SetAlive(s.topology, alive)
		if alive == 0 {
			break
		}

		now := s.clock.Now()
		terminated, firstDead := s.termination()
		switch {
		case s.shutdownRequested.Load() && !terminated:
			res.Reason = ReasonShutdownRequested
			s.logger.Info().Int(log.FieldProcesses, alive).Msg("shutdown requested, terminating processes")
			s.markTerminated(now, res.Reason)
			s.terminateAll(procs)
		case alive < len(procs) && !terminated:
			res.Reason = ReasonProcessDied
			s.logger.Warn().Int(log.FieldProcesses, alive).Msg("process set is no longer complete, terminating survivors")
			s.markTerminated(now, res.Reason)
			s.terminateAll(procs)
		}

		terminated, firstDead = s.termination()
		if terminated && now.Sub(firstDead) > s.shutdownTimeout {
			s.logger.Warn().Dur(log.FieldTimeout, s.shutdownTimeout).Msg("grace window elapsed, killing survivors")
			s.killAll(procs)
			res.ForceKilled = true
			break
		}

		s.clock.Sleep(s.pollInterval)
	}

	if res.ForceKilled {
		s.setState(StateForceKilled)
	} else {
		s.setState(StateJoined)
	}
	s.joinAll(procs)
	s.recordShutdown(res)
	metrics.SetAlive(s.topology, 0)
	s.setState(StateDone)
	s.logger.Info().Str(log.FieldReason, res.Reason).Bool("force_killed", res.ForceKilled).Msg("all processes joined")
	return s.finish(res)
}

func (s *Supervisor) finish(res Result) Result {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	return res
}

func (s *Supervisor) termination() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated, s.firstDeadTime
}

// markTerminated flips the terminated flag, publishes the teardown reason and
// records the first-dead time if it is still unset.
func (s *Supervisor) markTerminated(now time.Time, reason string) {
	s.mu.Lock()
	s.terminated = true
	s.result.Reason = reason
	if s.firstDeadTime.IsZero() {
		s.firstDeadTime = now
	}
	s.mu.Unlock()
	s.setState(StateTerminating)
}

func (s *Supervisor) terminateAll(procs []runtime.Handle) {
	for _, p := range procs {
		if !p.Alive() {
			continue
		}
		err := p.Terminate()
		metrics.ObserveSignal(p.Name(), metrics.SignalTerminate, err)
		logger := s.logger.With().Str(log.FieldProcess, p.Name()).Int(log.FieldPid, p.Pid()).Logger()
		if err != nil {
			logger.Error().Err(err).Msg("terminate failed")
		} else {
			logger.Info().Str(log.FieldSignal, metrics.SignalTerminate).Msg("terminate sent")
		}
		s.emit(Event{Type: EventTypeTerminate, Process: p.Name(), Pid: p.Pid(), Err: err, Message: "terminate sent"})
	}
}

func (s *Supervisor) killAll(procs []runtime.Handle) {
	for _, p := range procs {
		if !p.Alive() {
			continue
		}
		err := p.Kill()
		metrics.ObserveSignal(p.Name(), metrics.SignalKill, err)
		logger := s.logger.With().Str(log.FieldProcess, p.Name()).Int(log.FieldPid, p.Pid()).Logger()
		if err != nil {
			logger.Error().Err(err).Msg("kill failed")
		} else {
			logger.Warn().Str(log.FieldSignal, metrics.SignalKill).Msg("kill sent")
		}
		s.emit(Event{Type: EventTypeKill, Process: p.Name(), Pid: p.Pid(), Err: err, Message: "kill sent"})
	}
}

// joinAll waits for every handle. Failures are logged and counted but never
// stop the remaining joins.
func (s *Supervisor) joinAll(procs []runtime.Handle) {
	for _, p := range procs {
		if err := p.Join(); err != nil {
			metrics.IncJoinFailure(p.Name())
			s.logger.Error().Err(err).Str(log.FieldProcess, p.Name()).Int(log.FieldPid, p.Pid()).Msg("join failed")
			s.emit(Event{Type: EventTypeJoinFailed, Process: p.Name(), Pid: p.Pid(), Err: err, Message: "join failed"})
		}
	}
}

func (s *Supervisor) recordShutdown(res Result) {
	outcome := "exited"
	var elapsed time.Duration
	terminated, firstDead := s.termination()
	if terminated {
		outcome = "graceful"
		if res.ForceKilled {
			outcome = "force_killed"
		}
		elapsed = s.clock.Now().Sub(firstDead)
	}
	metrics.ObserveShutdown(s.topology, res.Reason, outcome, elapsed)
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.logger.Debug().
		Str(log.FieldOldState, prev.String()).
		Str(log.FieldNewState, next.String()).
		Msg("state changed")
	s.emit(Event{Type: EventTypeStateChanged, State: next, Message: prev.String() + " -> " + next.String()})
}

// emit delivers an event without blocking the monitor loop.
func (s *Supervisor) emit(evt Event) {
	if s.events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}
	select {
	case s.events <- evt:
	default:
	}
}
