package cli

import (
	"github.com/spf13/cobra"

	"github.com/jianglan89/rtp-llm/internal/engine"
	"github.com/jianglan89/rtp-llm/internal/log"
	"github.com/jianglan89/rtp-llm/internal/procmgr"
)

func newWatchCmd(ctx *context) *cobra.Command {
	var (
		pids  []int
		name  string
		flags superviseFlags
	)
	cmd := &cobra.Command{
		Use:   "watch --pid N [--pid M ...]",
		Short: "Supervise already-running processes as a peer group",
		Long: `Attach to processes this supervisor did not start and treat them as
peer ranks: when one exits, or SIGTERM/SIGINT is received, the others get
SIGTERM, followed by SIGKILL after --shutdown-timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(cmd); err != nil {
				return err
			}
			sess := newSession(cmd, ctx, &flags)
			opts := append([]procmgr.Option{procmgr.WithTopology(name)}, flags.overrides(cmd)...)
			runner, err := engine.Attach(pids, sess.options(opts...)...)
			if err != nil {
				sess.restoreLogging(cmd)
				return err
			}
			logger := log.WithComponent("cli")
			logger.Info().Ints("pids", pids).Msg("watching processes")

			res, err := sess.supervise(cmd, runner)
			return finish(cmd, res, err)
		},
	}
	cmd.Flags().IntSliceVar(&pids, "pid", nil, "Process id to supervise (repeatable)")
	cmd.Flags().StringVar(&name, "name", "watch", "Label for logs and metrics")
	_ = cmd.MarkFlagRequired("pid")
	flags.register(cmd)
	return cmd
}
