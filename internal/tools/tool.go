// Package tools provides the external lookups a tool-augmented decision can
// call, and the per-paper candidate entity lists used by terminal nodes.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrUnknownToolType = errors.New("unknown tool type")
)

type Type string

const (
	// TypeHTTP performs a GET against a URL template.
	TypeHTTP Type = "http"

	// TypeStatic answers from a fixed table. Useful for offline runs and tests.
	TypeStatic Type = "static"
)

// Tool is an external lookup capability.
type Tool interface {
	Name() string
	Description() string

	// Call runs the lookup for arg and returns text suitable for an observation.
	Call(ctx context.Context, arg string) (string, error)
}

// Create builds a tool of type t from loosely typed params, usually straight
// out of the run configuration.
func Create(t Type, name string, params map[string]any) (Tool, error) {
	switch t {
	case TypeHTTP:
		var v struct {
			Description string `mapstructure:"description"`
			URL         string `mapstructure:"url"`
			Field       string `mapstructure:"field"`
			MaxBytes    int    `mapstructure:"max_bytes"`
		}
		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		return NewHTTPTool(name, v.Description, v.URL, HTTPOptions{Field: v.Field, MaxBytes: v.MaxBytes})
	case TypeStatic:
		var v struct {
			Description string            `mapstructure:"description"`
			Responses   map[string]string `mapstructure:"responses"`
			Fallback    string            `mapstructure:"fallback"`
		}
		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		return NewStaticTool(name, v.Description, v.Responses, v.Fallback), nil
	default:
		return nil, fmt.Errorf("%w: %q (tool %s)", ErrUnknownToolType, t, name)
	}
}

// Registry holds tools by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(t Tool) error {
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("duplicate tool %q", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	if r != nil {
		if t, ok := r.tools[name]; ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// StaticTool answers from a fixed table keyed by argument.
type StaticTool struct {
	name, description string
	responses         map[string]string
	fallback          string
}

func NewStaticTool(name, description string, responses map[string]string, fallback string) *StaticTool {
	return &StaticTool{name: name, description: description, responses: responses, fallback: fallback}
}

func (t *StaticTool) Name() string        { return t.name }
func (t *StaticTool) Description() string { return t.description }

func (t *StaticTool) Call(_ context.Context, arg string) (string, error) {
	if resp, ok := t.responses[arg]; ok {
		return resp, nil
	}
	if t.fallback == "" {
		return "Your search returned no hits, try again with a short identifier.", nil
	}
	return t.fallback, nil
}
