package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/runtime"
	_ "github.com/jianglan89/rtp-llm/internal/runtime/docker"
	_ "github.com/jianglan89/rtp-llm/internal/runtime/process"
)

// NewRootCmd builds the rtpsup command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{registry: runtime.NewRegistry}

	root := &cobra.Command{
		Use:   "rtpsup",
		Short: "All-or-nothing process supervisor for rtp-llm serving topologies",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.configureLogging(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $RTPSUP_LOG_LEVEL or info")
	root.PersistentFlags().StringVar(&ctx.logFormat, "log-format", log.FormatAuto, "Log format: auto, json or console")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newWatchCmd(ctx))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint. Signals are not trapped here: run and
// watch install the supervisor's own handlers so that only the supervisor
// decides when its processes are signalled.
func Execute() {
	root := NewRootCmd()
	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

type context struct {
	logLevel  string
	logFormat string
	registry  func() runtime.Registry
}

func (c *context) configureLogging(out io.Writer) error {
	switch c.logFormat {
	case "", log.FormatAuto, log.FormatJSON, log.FormatConsole:
	default:
		return fmt.Errorf("unsupported log format %q (want auto, json or console)", c.logFormat)
	}
	log.Configure(log.Config{Level: c.logLevel, Format: c.logFormat, Output: out})
	return nil
}

// exitError carries a specific process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) && exitErr.code > 0 {
		return exitErr.code
	}
	return 1
}
