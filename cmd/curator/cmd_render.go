package main

import (
	"fmt"
	"os"

	"github.com/mirna-curator/curator/internal/flowchart"
	"github.com/spf13/cobra"
)

func newRenderCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render <flowchart.json>",
		Short: "Render a flowchart as a Mermaid diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := flowchart.Load(args[0])
			if err != nil {
				return err
			}
			diagram := fc.Mermaid()

			if output == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), diagram)
				return err
			}
			if err := os.WriteFile(output, []byte(diagram), 0o644); err != nil {
				return fmt.Errorf("writing diagram: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Diagram saved to: %s\n", output) //nolint:errcheck
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the diagram to a file instead of stdout")
	return cmd
}
