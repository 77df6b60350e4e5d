package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var flags inputFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a flowchart and prompt library",
		Long: `Validate the flowchart and prompt documents against their schemas, then
check that every prompt, detector and tool the flowchart references exists.
All problems are reported together.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			fc, lib, err := flags.loadDefinitions()
			if err != nil {
				return err
			}
			g, err := buildGraph(cfg, fc, lib)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d nodes, start %q, %d prompts, %d detectors\n", //nolint:errcheck
				len(g.Names()), g.Start().Name, len(lib.Prompts()), len(lib.Detectors()))
			return nil
		},
	}

	flags.register(cmd, false)
	return cmd
}
