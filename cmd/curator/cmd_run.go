package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mirna-curator/curator/internal/batch"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		flags       inputFlags
		articlePath string
		paperID     string
		rnaID       string
		printJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Curate one article for one RNA",
		Long: `Run the flowchart over a single pre-parsed article.

The result is appended to the configured results file and, with --json,
printed to stdout.`,
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

			p, err := newPipeline(cfg, fc, lib)
			if err != nil {
				return err
			}
			defer p.close()

			job := batch.Job{PaperID: paperID, RNAID: rnaID, Article: articlePath}

			progress := batch.StartProgress(os.Stderr, 1)
			out := p.runner.RunOne(cmd.Context(), job)
			progress.Stop()

			if out.Err != nil {
				return out.Err
			}

			if printJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out.Result); err != nil {
					return err
				}
			} else {
				batch.WriteSummary(cmd.OutOrStdout(), []batch.Outcome{out})
			}

			if err := p.upload(cmd.Context(), []batch.Outcome{out}); err != nil {
				return fmt.Errorf("uploading results: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().StringVar(&articlePath, "article", "", "Pre-parsed article JSON")
	cmd.Flags().StringVar(&paperID, "paper-id", "", "Paper identifier (default: the article's id)")
	cmd.Flags().StringVar(&rnaID, "rna", "", "RNA identifier, e.g. hsa-miR-21-5p")
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("article")
	_ = cmd.MarkFlagRequired("rna")

	return cmd
}
