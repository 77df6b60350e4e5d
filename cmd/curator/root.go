package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curator",
		Short: "Curator - flowchart-driven literature curation",
		Long: `Curator walks a decision flowchart over scientific articles, asking a
language model one bounded question per step, and records the resulting
annotation together with its supporting evidence.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newBatchCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newRenderCommand())
	cmd.AddCommand(newTraceCommand())
	cmd.AddCommand(newInitCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
