// Package config loads the YAML run configuration shared by the curator
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mirna-curator/curator/internal/evidence"
	"github.com/mirna-curator/curator/internal/model"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by [Find].
const FileName = ".curator.yaml"

// Default values. New() references them and no other code should duplicate them.
const (
	DefaultProvider   = "ollama"
	DefaultModel      = "qwen2.5:14b"
	DefaultTimeout    = 120
	DefaultMaxRetries = 6

	DefaultReasoningTemperature = 0.4
	DefaultReasoningTokens      = 512
	DefaultSelectionTemperature = 0.1
	DefaultFilterTemperature    = 0.6
	DefaultFilterTokens         = 1024
	DefaultEntityTokens         = 32
	DefaultSectionTemperature   = 0.6
	DefaultSectionTokens        = 512
	DefaultEvidenceTokens       = 256
	DefaultEvidenceWindow       = 3
	DefaultToolIterations       = 5

	DefaultMaxErrors = 3
	DefaultWorkers   = 4

	DefaultTraceDir    = "curation_traces"
	DefaultTracePrefix = "flowchart_events"
	DefaultResults     = "results.jsonl"
)

var providers = []string{"ollama", "lmstudio", "openai", "openrouter", "groq", "custom", "copilot"}

// Providers lists the accepted backend.provider values.
func Providers() []string { return slices.Clone(providers) }

// BackendConfig selects and configures the model backend.
type BackendConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv  string `yaml:"api_key_env,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// APIKey reads the key from the configured environment variable.
func (b BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

// EvaluationConfig holds the per-step generation knobs.
type EvaluationConfig struct {
	ReasoningTemperature float64 `yaml:"reasoning_temperature"`
	ReasoningTokens      int     `yaml:"reasoning_tokens,omitempty"`
	SelectionTemperature float64 `yaml:"selection_temperature"`
	FilterTemperature    float64 `yaml:"filter_temperature"`
	FilterTokens         int     `yaml:"filter_tokens,omitempty"`
	EntityTokens         int     `yaml:"entity_tokens,omitempty"`
	SectionTemperature   float64 `yaml:"section_temperature"`
	SectionTokens        int     `yaml:"section_tokens,omitempty"`

	EvidenceMode   evidence.Mode `yaml:"evidence_mode,omitempty"`
	EvidenceTokens int           `yaml:"evidence_tokens,omitempty"`
	EvidenceWindow int           `yaml:"evidence_window,omitempty"`

	ToolIterations int    `yaml:"tool_iterations,omitempty"`
	SystemPrompt   string `yaml:"system_prompt,omitempty"`
}

// InterpreterConfig controls the graph walk.
type InterpreterConfig struct {
	MaxErrors      int  `yaml:"max_errors,omitempty"`
	FilterInLedger bool `yaml:"filter_in_ledger"`
}

// ToolConfig declares one external lookup tool.
type ToolConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params,omitempty"`
}

// TraceConfig controls event and transcript persistence.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
	// TranscriptDir receives one conversation file per run. Empty disables them.
	TranscriptDir string `yaml:"transcript_dir,omitempty"`
	Compress      bool   `yaml:"compress"`
}

// UploadConfig copies results and transcripts to blob storage.
type UploadConfig struct {
	AccountURL string `yaml:"account_url,omitempty"`
	Container  string `yaml:"container,omitempty"`
	Prefix     string `yaml:"prefix,omitempty"`
}

func (u UploadConfig) Enabled() bool { return u.AccountURL != "" && u.Container != "" }

// OutputConfig says where results go. A .db or .sqlite suffix selects SQLite,
// anything else JSON lines.
type OutputConfig struct {
	Results string       `yaml:"results,omitempty"`
	Upload  UploadConfig `yaml:"upload,omitempty"`
}

// BatchConfig controls the batch driver.
type BatchConfig struct {
	Workers int  `yaml:"workers,omitempty"`
	Resume  bool `yaml:"resume"`
}

// Config is the whole run configuration.
type Config struct {
	Backend     BackendConfig     `yaml:"backend,omitempty"`
	Evaluation  EvaluationConfig  `yaml:"evaluation,omitempty"`
	Sampling    *model.Sampling   `yaml:"sampling,omitempty"`
	Interpreter InterpreterConfig `yaml:"interpreter,omitempty"`
	Tools       []ToolConfig      `yaml:"tools,omitempty"`
	// Entities is a JSON file mapping paper id to candidate entity names.
	Entities string       `yaml:"entities,omitempty"`
	Trace    TraceConfig  `yaml:"trace,omitempty"`
	Output   OutputConfig `yaml:"output,omitempty"`
	Batch    BatchConfig  `yaml:"batch,omitempty"`

	// dir is the directory of the loaded file, for resolving relative paths.
	dir string
}

// New returns a Config with all defaults populated.
func New() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:   DefaultProvider,
			Model:      DefaultModel,
			Timeout:    DefaultTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Evaluation: EvaluationConfig{
			ReasoningTemperature: DefaultReasoningTemperature,
			ReasoningTokens:      DefaultReasoningTokens,
			SelectionTemperature: DefaultSelectionTemperature,
			FilterTemperature:    DefaultFilterTemperature,
			FilterTokens:         DefaultFilterTokens,
			EntityTokens:         DefaultEntityTokens,
			SectionTemperature:   DefaultSectionTemperature,
			SectionTokens:        DefaultSectionTokens,
			EvidenceMode:         evidence.SingleSentence,
			EvidenceTokens:       DefaultEvidenceTokens,
			EvidenceWindow:       DefaultEvidenceWindow,
			ToolIterations:       DefaultToolIterations,
		},
		Interpreter: InterpreterConfig{MaxErrors: DefaultMaxErrors},
		Trace: TraceConfig{
			Enabled: true,
			Dir:     DefaultTraceDir,
			Prefix:  DefaultTracePrefix,
		},
		Output: OutputConfig{Results: DefaultResults},
		Batch:  BatchConfig{Workers: DefaultWorkers, Resume: true},
	}
}

// Load reads path and overlays it on the defaults. An empty path looks for
// [FileName] from the working directory upwards and falls back to defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := Find(".")
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		if err != nil {
			return nil, err
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML data on the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find walks up from dir (max 10 levels) looking for [FileName]. It returns
// os.ErrNotExist if there is none.
func Find(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = abs

	for range 10 {
		p := filepath.Join(dir, FileName)
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// Save writes c to path as YAML, refusing to replace an existing file unless
// overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(providers, c.Backend.Provider) {
		errs = append(errs, fmt.Errorf("backend.provider %q must be one of %s", c.Backend.Provider, strings.Join(providers, ", ")))
	}
	if c.Backend.Provider == "custom" && c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required for the custom provider"))
	}
	if c.Backend.Model == "" {
		errs = append(errs, errors.New("backend.model is required"))
	}
	if !slices.Contains(evidence.Modes(), c.Evaluation.EvidenceMode) {
		errs = append(errs, fmt.Errorf("evaluation.evidence_mode %q is not supported", c.Evaluation.EvidenceMode))
	}
	if n := c.Evaluation.ToolIterations; n < 1 || n > DefaultToolIterations {
		errs = append(errs, fmt.Errorf("evaluation.tool_iterations must be between 1 and %d", DefaultToolIterations))
	}
	for name, v := range map[string]float64{
		"reasoning_temperature": c.Evaluation.ReasoningTemperature,
		"selection_temperature": c.Evaluation.SelectionTemperature,
		"filter_temperature":    c.Evaluation.FilterTemperature,
		"section_temperature":   c.Evaluation.SectionTemperature,
	} {
		if v < 0 || v > 2 {
			errs = append(errs, fmt.Errorf("evaluation.%s must be between 0 and 2", name))
		}
	}
	if c.Interpreter.MaxErrors < 0 {
		errs = append(errs, errors.New("interpreter.max_errors must not be negative"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.workers must be at least 1"))
	}
	seen := map[string]bool{}
	for i, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name))
		}
		seen[t.Name] = true
	}
	if (c.Output.Upload.AccountURL == "") != (c.Output.Upload.Container == "") {
		errs = append(errs, errors.New("output.upload needs both account_url and container"))
	}
	return errors.Join(errs...)
}

// Resolve makes path relative to the config file's directory. Absolute and
// empty paths are returned unchanged.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
