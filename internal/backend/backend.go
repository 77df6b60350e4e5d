// Package backend connects [model.Backend] to real inference services.
//
// Every provider except copilot speaks the OpenAI chat-completions
// protocol and differs only in its default base URL.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirna-curator/curator/internal/config"
	"github.com/mirna-curator/curator/internal/model"
)

var (
	ErrNoProvider      = errors.New("backend: provider not specified")
	ErrUnknownProvider = errors.New("backend: unknown provider")
)

// Backend is a [model.Backend] that owns resources released by Close.
type Backend interface {
	model.Backend
	Close() error
}

var defaultBaseURLs = map[string]string{
	"ollama":     "http://localhost:11434",
	"lmstudio":   "http://localhost:1234",
	"openai":     "https://api.openai.com",
	"openrouter": "https://openrouter.ai/api",
	"groq":       "https://api.groq.com/openai",
}

// New creates the backend named by cfg.Provider.
func New(cfg config.BackendConfig) (Backend, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrNoProvider
	case "copilot":
		return NewCopilot(CopilotOptions{Model: cfg.Model, Timeout: seconds(cfg.Timeout)}), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("backend: custom provider requires base_url")
		}
	default:
		if _, ok := defaultBaseURLs[cfg.Provider]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Provider]
	}
	return NewOpenAI(OpenAIOptions{
		Provider:   cfg.Provider,
		BaseURL:    baseURL,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey(),
		Timeout:    seconds(cfg.Timeout),
		MaxRetries: cfg.MaxRetries,
	}), nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// choiceInstruction asks the model to finish prefix with one of options as JSON.
func choiceInstruction(prefix string, options []string) string {
	var sb strings.Builder
	if strings.TrimSpace(prefix) != "" {
		fmt.Fprintf(&sb, "Your response so far is:\n%s\n\n", prefix)
	}
	sb.WriteString("Continue it with exactly one of the following options, copied verbatim:\n")
	for _, o := range options {
		fmt.Fprintf(&sb, "- %s\n", o)
	}
	sb.WriteString(`Respond only with a JSON object of the form {"choice": "<option>"}.`)
	return sb.String()
}

// pickOption maps a raw reply onto one of options. Replies may be the JSON
// object asked for by [choiceInstruction], the bare option, or an option
// followed by extra text.
func pickOption(raw string, options []string) (string, error) {
	text := strings.TrimSpace(raw)

	var obj struct {
		Choice string `json:"choice"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &obj); err == nil && obj.Choice != "" {
		text = obj.Choice
	}

	if choice, ok := model.MatchOption(text, options); ok {
		return choice, nil
	}

	lower := strings.ToLower(text)
	best := ""
	for _, o := range options {
		if strings.HasPrefix(lower, strings.ToLower(o)) && len(o) > len(best) {
			best = o
		}
	}
	if best != "" {
		return best, nil
	}
	return "", fmt.Errorf("%w: %q", model.ErrNoChoice, raw)
}

// stripFence removes a surrounding ``` block some models wrap JSON in.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
