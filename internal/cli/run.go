package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jianglan89/rtp-llm/internal/config"
	"github.com/jianglan89/rtp-llm/internal/engine"
	"github.com/jianglan89/rtp-llm/internal/log"
)

func newRunCmd(ctx *context) *cobra.Command {
	var (
		file  string
		flags superviseFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a topology and supervise it until it is torn down",
		Long: `Start every process of the topology, then supervise them as one unit.

If any process exits, or SIGTERM/SIGINT is received, every survivor gets
SIGTERM; whatever is still alive after --shutdown-timeout gets SIGKILL. The
command exits non-zero when the set was torn down because a process died.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(cmd); err != nil {
				return err
			}
			doc, err := config.Load(file)
			if err != nil {
				return err
			}

			sess := newSession(cmd, ctx, &flags)
			logger := log.WithComponent("cli")
			logger.Info().
				Str(log.FieldTopology, doc.Name).
				Str("kind", doc.Kind()).
				Int(log.FieldProcesses, len(doc.Instances())).
				Msg("starting topology")

			orch := engine.NewOrchestrator(ctx.registry())
			runner, upErr := orch.Up(cmd.Context(), doc, sess.options(flags.overrides(cmd)...)...)
			if runner == nil {
				sess.restoreLogging(cmd)
				return upErr
			}
			if upErr != nil {
				logger.Error().Err(upErr).Msg("launch failed, tearing down started processes")
			}

			res, err := sess.supervise(cmd, runner)
			if upErr != nil {
				return fmt.Errorf("launch topology: %w", upErr)
			}
			return finish(cmd, res, err)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "topology.yaml", "Path to topology definition")
	flags.register(cmd)
	return cmd
}
