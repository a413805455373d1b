package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jianglan89/rtp-llm/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with topology files",
	}
	cmd.AddCommand(newConfigLintCmd())
	return cmd
}

func newConfigLintCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a topology file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%s topology, %d processes)\n", path, doc.Kind(), len(doc.Instances()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "topology.yaml", "Path to topology definition")
	return cmd
}
