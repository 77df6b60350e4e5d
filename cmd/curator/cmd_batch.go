package main

import (
	"fmt"
	"os"

	"github.com/mirna-curator/curator/internal/batch"
	"github.com/spf13/cobra"
)

func newBatchCommand() *cobra.Command {
	var (
		flags    inputFlags
		workers  int
		noResume bool
		start    int
		end      int
	)

	cmd := &cobra.Command{
		Use:   "batch <manifest.csv>",
		Short: "Curate every pair listed in a manifest",
		Long: `Run the flowchart over every (paper_id, rna_id, article) row of a CSV
manifest. Pairs already present in the results file are skipped unless
--no-resume is given. A pair that fails is logged and skipped; the command
exits with status 1 when any pair failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Batch.Workers = workers
			}
			if noResume {
				cfg.Batch.Resume = false
			}

			jobs, err := batch.LoadManifest(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
				if end == 0 {
					end = len(jobs)
				}
				if jobs, err = batch.Range(jobs, start, end); err != nil {
					return err
				}
			}

			fc, lib, err := flags.loadDefinitions()
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg, fc, lib)
			if err != nil {
				return err
			}
			defer p.close()

			progress := batch.StartProgress(os.Stderr, len(jobs))
			p.runner.OnDone = progress.Observe

			outcomes, runErr := p.runner.Run(cmd.Context(), jobs)
			progress.Stop()

			batch.WriteSummary(cmd.OutOrStdout(), outcomes)
			if runErr != nil {
				return runErr
			}

			if err := p.upload(cmd.Context(), outcomes); err != nil {
				return fmt.Errorf("uploading results: %w", err)
			}

			if failed := batch.Failed(outcomes); failed > 0 {
				return &PartialFailureError{Failed: failed, Total: len(outcomes)}
			}
			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent pairs (default: from config)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Re-run pairs that already have results")
	cmd.Flags().IntVar(&start, "start", 1, "First manifest row to run (1-based)")
	cmd.Flags().IntVar(&end, "end", 0, "Last manifest row to run (default: the last row)")

	return cmd
}
