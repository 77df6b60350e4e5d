package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mirna-curator/curator/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// promptBackend is replaced in tests.
var promptBackend = defaultPromptBackend

func newInitCommand() *cobra.Command {
	var (
		interactive bool
		force       bool
		provider    string
		modelName   string
		results     string
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter " + config.FileName,
		Long: `Write a starter configuration file with every default spelled out.

Use --interactive to pick the backend, model and results file from a guided
form. An existing file is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			cfg := config.New()
			if provider != "" {
				cfg.Backend.Provider = provider
			}
			if modelName != "" {
				cfg.Backend.Model = modelName
			}
			if results != "" {
				cfg.Output.Results = results
			}
			if interactive {
				if err := promptBackend(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
					return fmt.Errorf("wizard failed: %w", err)
				}
			}

			path := filepath.Join(dir, config.FileName)
			err := cfg.Save(path, force)
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%s already exists (use --force to replace it)", path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %s)\n", path, cfg.Backend.Provider, cfg.Backend.Model) //nolint:errcheck
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Choose settings in a guided form")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing config file")
	cmd.Flags().StringVar(&provider, "provider", "", "Backend provider")
	cmd.Flags().StringVar(&modelName, "model", "", "Model name")
	cmd.Flags().StringVar(&results, "results", "", "Results file (.jsonl or .db)")
	return cmd
}

func defaultPromptBackend(in io.Reader, out io.Writer, cfg *config.Config) error {
	workers := strconv.Itoa(cfg.Batch.Workers)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Backend").
				Options(huh.NewOptions(config.Providers()...)...).
				Value(&cfg.Backend.Provider),
			huh.NewInput().
				Title("Model").
				Description("Model name as the backend knows it").
				Value(&cfg.Backend.Model).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("model is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Base URL").
				Description("Leave empty for the provider default").
				Value(&cfg.Backend.BaseURL),
			huh.NewInput().
				Title("API key variable").
				Description("Environment variable holding the API key, if any").
				Placeholder("OPENROUTER_API_KEY").
				Value(&cfg.Backend.APIKeyEnv),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Results file").
				Description("A .db or .sqlite suffix stores results in SQLite").
				Value(&cfg.Output.Results),
			huh.NewInput().
				Title("Batch workers").
				Value(&workers).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(strings.TrimSpace(s)); err != nil || n < 1 {
						return errors.New("workers must be a positive number")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Compress transcripts?").
				Affirmative("Yes").
				Negative("No").
				Value(&cfg.Trace.Compress),
		),
	).
		WithInput(in).
		WithOutput(out)

	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		form = form.WithAccessible(true)
	}
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Backend.Model = strings.TrimSpace(cfg.Backend.Model)
	cfg.Backend.BaseURL = strings.TrimSpace(cfg.Backend.BaseURL)
	cfg.Backend.APIKeyEnv = strings.TrimSpace(cfg.Backend.APIKeyEnv)
	cfg.Output.Results = strings.TrimSpace(cfg.Output.Results)
	cfg.Batch.Workers, _ = strconv.Atoi(strings.TrimSpace(workers))
	return nil
}
