package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mirna-curator/curator/internal/backend"
	"github.com/mirna-curator/curator/internal/batch"
	"github.com/mirna-curator/curator/internal/config"
	"github.com/mirna-curator/curator/internal/curation"
	"github.com/mirna-curator/curator/internal/evaluators"
	"github.com/mirna-curator/curator/internal/evidence"
	"github.com/mirna-curator/curator/internal/flowchart"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/prompts"
	"github.com/mirna-curator/curator/internal/sections"
	"github.com/mirna-curator/curator/internal/sink"
	"github.com/mirna-curator/curator/internal/tools"
	"github.com/mirna-curator/curator/internal/tracing"
	"github.com/spf13/cobra"
)

// inputFlags are shared by every command that needs a graph.
type inputFlags struct {
	configPath    string
	flowchartPath string
	promptsPath   string
	outputPath    string
	provider      string
	modelID       string
}

func (f *inputFlags) register(cmd *cobra.Command, withOutput bool) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Run configuration (default: nearest "+config.FileName+")")
	cmd.Flags().StringVar(&f.flowchartPath, "flowchart", "", "Flowchart definition JSON")
	cmd.Flags().StringVar(&f.promptsPath, "prompts", "", "Prompt library JSON")
	_ = cmd.MarkFlagRequired("flowchart")
	_ = cmd.MarkFlagRequired("prompts")
	if withOutput {
		cmd.Flags().StringVarP(&f.outputPath, "output", "o", "", "Results file; .db or .sqlite selects SQLite (overrides config)")
		cmd.Flags().StringVar(&f.provider, "provider", "", "Model provider (overrides config)")
		cmd.Flags().StringVar(&f.modelID, "model", "", "Model to use (overrides config)")
	}
}

// loadConfig reads the configuration and applies flag overrides.
func (f *inputFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.outputPath != "" {
		abs, err := filepath.Abs(f.outputPath)
		if err != nil {
			return nil, err
		}
		cfg.Output.Results = abs
	}
	if f.provider != "" {
		cfg.Backend.Provider = f.provider
	}
	if f.modelID != "" {
		cfg.Backend.Model = f.modelID
	}
	return cfg, cfg.Validate()
}

func (f *inputFlags) loadDefinitions() (*flowchart.Flowchart, *prompts.Library, error) {
	fc, err := flowchart.Load(f.flowchartPath)
	if err != nil {
		return nil, nil, err
	}
	lib, err := prompts.Load(f.promptsPath)
	if err != nil {
		return nil, nil, err
	}
	return fc, lib, nil
}

// buildGraph links the definitions with evaluators configured from cfg.
func buildGraph(cfg *config.Config, fc *flowchart.Flowchart, lib *prompts.Library) (*curation.Graph, error) {
	registry, err := buildTools(cfg)
	if err != nil {
		return nil, err
	}

	extractor, err := evidence.New(evidence.Options{
		Mode:        cfg.Evaluation.EvidenceMode,
		Temperature: cfg.Evaluation.SelectionTemperature,
		MaxTokens:   cfg.Evaluation.EvidenceTokens,
		Window:      cfg.Evaluation.EvidenceWindow,
		Sampling:    cfg.Sampling,
	})
	if err != nil {
		return nil, err
	}

	var entities tools.EntityLister
	if cfg.Entities != "" {
		lister, err := tools.LoadStaticLister(cfg.Resolve(cfg.Entities))
		if err != nil {
			return nil, err
		}
		entities = tools.NewCachedLister(lister)
	}

	return curation.NewGraph(fc, lib, curation.GraphOptions{
		Settings: evaluators.Settings{
			ReasoningTemperature: cfg.Evaluation.ReasoningTemperature,
			ReasoningTokens:      cfg.Evaluation.ReasoningTokens,
			SelectionTemperature: cfg.Evaluation.SelectionTemperature,
			FilterTemperature:    cfg.Evaluation.FilterTemperature,
			FilterTokens:         cfg.Evaluation.FilterTokens,
			EntityTokens:         cfg.Evaluation.EntityTokens,
			Sampling:             cfg.Sampling,
			Evidence:             extractor,
		},
		Tools:             registry,
		Entities:          entities,
		MaxToolIterations: cfg.Evaluation.ToolIterations,
	})
}

func buildTools(cfg *config.Config) (*tools.Registry, error) {
	registry, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, tc := range cfg.Tools {
		t, err := tools.Create(tools.Type(tc.Type), tc.Name, tc.Params)
		if err != nil {
			return nil, err
		}
		if err := registry.Add(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// pipeline owns everything a run or batch needs and releases it on close.
type pipeline struct {
	cfg    *config.Config
	runner *batch.Runner

	backend  backend.Backend
	tracer   *tracing.Tracer
	sink     sink.Sink
	uploader *sink.Uploader
}

func newPipeline(cfg *config.Config, fc *flowchart.Flowchart, lib *prompts.Library) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	graph, err := buildGraph(cfg, fc, lib)
	if err != nil {
		return nil, err
	}

	if p.backend, err = backend.New(cfg.Backend); err != nil {
		return nil, err
	}

	var logger tracing.Logger = tracing.NopLogger{}
	if cfg.Trace.Enabled {
		if logger, err = tracing.NewDailyLogger(cfg.Resolve(cfg.Trace.Dir), cfg.Trace.Prefix); err != nil {
			return nil, err
		}
	}
	p.tracer = tracing.NewTracer(logger, cfg.Backend.Model)

	if p.sink, err = sink.Open(cfg.Resolve(cfg.Output.Results)); err != nil {
		return nil, err
	}

	var transcripts *sink.Transcripts
	if cfg.Trace.TranscriptDir != "" {
		transcripts = sink.NewTranscripts(cfg.Resolve(cfg.Trace.TranscriptDir), cfg.Trace.Compress)
	}

	if up := cfg.Output.Upload; up.Enabled() {
		if p.uploader, err = sink.NewUploader(up.AccountURL, up.Container, up.Prefix); err != nil {
			return nil, err
		}
	}

	p.runner = &batch.Runner{
		Graph: graph,
		Interpreter: curation.Config{
			MaxErrors:      cfg.Interpreter.MaxErrors,
			FilterInLedger: cfg.Interpreter.FilterInLedger,
			SystemPrompt:   cfg.Evaluation.SystemPrompt,
			Resolver: sections.NewResolver(sections.Options{
				MaxTokens:   cfg.Evaluation.SectionTokens,
				Temperature: cfg.Evaluation.SectionTemperature,
				Sampling:    cfg.Sampling,
			}),
			Tracer: p.tracer,
		},
		NewSession: func() model.Session {
			return model.NewConversation(p.backend)
		},
		Sink:        p.sink,
		Transcripts: transcripts,
		Workers:     cfg.Batch.Workers,
		Resume:      cfg.Batch.Resume,
	}

	slog.Debug("Pipeline ready",
		"provider", cfg.Backend.Provider, "model", cfg.Backend.Model,
		"results", p.sink.Path(), "run_id", p.tracer.RunID())
	return p, nil
}

// upload copies the results file and any transcripts to blob storage.
func (p *pipeline) upload(ctx context.Context, outcomes []batch.Outcome) error {
	if p.uploader == nil {
		return nil
	}

	var errs []error
	for _, o := range outcomes {
		if o.Transcript == "" {
			continue
		}
		if _, err := p.uploader.UploadFile(ctx, o.Transcript); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := p.uploader.UploadFile(ctx, p.sink.Path()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *pipeline) close() {
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			slog.Error("closing results", "error", err)
		}
	}
	if p.tracer != nil {
		if err := p.tracer.Close(); err != nil {
			slog.Error("closing trace log", "error", err)
		}
	}
	if p.backend != nil {
		if err := p.backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to stop model backend: %v\n", err)
		}
	}
}
