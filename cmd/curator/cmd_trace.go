package main

import (
	"fmt"

	"github.com/mirna-curator/curator/internal/sink"
	"github.com/mirna-curator/curator/internal/tracing"
	"github.com/spf13/cobra"
)

func newTraceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect run traces",
		Long: `Inspect the NDJSON event logs and conversation transcripts written during
runs.`,
	}

	cmd.AddCommand(newTraceViewCommand())
	cmd.AddCommand(newTraceTranscriptCommand())

	return cmd
}

func newTraceViewCommand() *cobra.Command {
	var paperID string

	cmd := &cobra.Command{
		Use:   "view <events.ndjson>",
		Short: "Show an event log as a timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := tracing.ReadEvents(args[0])
			if err != nil {
				return fmt.Errorf("reading trace: %w", err)
			}
			tracing.RenderTimeline(cmd.OutOrStdout(), tracing.Filter(events, paperID))
			return nil
		},
	}

	cmd.Flags().StringVar(&paperID, "paper", "", "Only show events for this paper")
	return cmd
}

func newTraceTranscriptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <file>",
		Short: "Print a saved conversation, decompressing it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := sink.ReadTranscript(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
}
