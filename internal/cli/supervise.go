package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	apihttp "github.com/jianglan89/rtp-llm/internal/api/http"
	"github.com/jianglan89/rtp-llm/internal/engine"
	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/metrics"
	"github.com/jianglan89/rtp-llm/internal/procmgr"
	"github.com/jianglan89/rtp-llm/internal/tui"
)

var newAPIServer = apihttp.NewServer

var errProcessDied = errors.New("a supervised process exited unexpectedly; the process set was torn down")

// superviseFlags are shared by run and watch.
type superviseFlags struct {
	shutdownTimeout time.Duration
	pollInterval    time.Duration
	metricsAddr     string
	tui             bool
}

func (f *superviseFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.shutdownTimeout, "shutdown-timeout", procmgr.DefaultShutdownTimeout, "Grace window between SIGTERM and SIGKILL")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", procmgr.DefaultPollInterval, "Liveness poll interval")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", os.Getenv("RTPSUP_METRICS_ADDR"), "Serve the control API and /metrics on this address (disabled when empty)")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "Show the interactive dashboard")
}

// overrides returns options for the flags explicitly set on the command line.
func (f *superviseFlags) overrides(cmd *cobra.Command) []procmgr.Option {
	var opts []procmgr.Option
	if cmd.Flags().Changed("shutdown-timeout") {
		opts = append(opts, procmgr.WithShutdownTimeout(f.shutdownTimeout))
	}
	if cmd.Flags().Changed("poll-interval") {
		opts = append(opts, procmgr.WithPollInterval(f.pollInterval))
	}
	return opts
}

func (f *superviseFlags) validate(cmd *cobra.Command) error {
	if f.shutdownTimeout <= 0 {
		return fmt.Errorf("--shutdown-timeout must be positive")
	}
	if f.pollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive")
	}
	if f.tui && !supportsInteractiveOutput(cmd) {
		return fmt.Errorf("--tui requires an interactive terminal")
	}
	return nil
}

// session wires the optional dashboard into logging and the supervisor's
// event stream before any process is started.
type session struct {
	ctx    *context
	flags  *superviseFlags
	ui     *tui.UI
	events chan procmgr.Event
}

func newSession(cmd *cobra.Command, ctx *context, flags *superviseFlags) *session {
	s := &session{ctx: ctx, flags: flags}
	if flags.tui {
		s.events = make(chan procmgr.Event, 256)
		s.ui = tui.New(tui.WithEvents(s.events))
		log.Configure(log.Config{Level: ctx.logLevel, Format: log.FormatConsole, Output: s.ui.LogWriter()})
	}
	return s
}

func (s *session) options(extra ...procmgr.Option) []procmgr.Option {
	if s.events != nil {
		extra = append(extra, procmgr.WithEvents(s.events))
	}
	return extra
}

// supervise installs the signal bridge and blocks until the runner has
// joined every process. The API server and dashboard run alongside and are
// stopped once the supervisor is done.
func (s *session) supervise(cmd *cobra.Command, runner engine.Runner) (procmgr.Result, error) {
	stopSignals := runner.InstallSignalHandlers()
	defer stopSignals()

	var server *apihttp.Server
	if s.flags.metricsAddr != "" {
		var err error
		server, err = newAPIServer(apihttp.Config{Addr: s.flags.metricsAddr, Controller: runner})
		if err != nil {
			runner.GracefulShutdown()
			res := runner.MonitorAndRelease(cmd.Context())
			return res, fmt.Errorf("control api: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(cmd.Context())
	auxCtx, cancelAux := stdcontext.WithCancel(groupCtx)
	defer cancelAux()

	var res procmgr.Result
	group.Go(func() error {
		defer cancelAux()
		res = runner.MonitorAndRelease(groupCtx)
		return nil
	})
	if server != nil {
		group.Go(func() error {
			if err := server.Run(auxCtx); err != nil {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
	}
	if s.ui != nil {
		group.Go(func() error {
			err := s.ui.Run(auxCtx, runner)
			s.restoreLogging(cmd)
			return err
		})
	}

	err := group.Wait()
	metrics.ResetTopology(runner.Snapshot().Topology)
	return res, err
}

func (s *session) restoreLogging(cmd *cobra.Command) {
	_ = s.ctx.configureLogging(cmd.ErrOrStderr())
}

// finish reports the outcome and maps it to the command's error.
func finish(cmd *cobra.Command, res procmgr.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "supervisor finished: reason=%s force_killed=%t\n", res.Reason, res.ForceKilled)
	if res.Reason == procmgr.ReasonProcessDied {
		return &exitError{code: 1, err: errProcessDied}
	}
	return nil
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	out, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(out.Fd()))
}
