// Package sections maps the section names a prompt asks for onto the
// headings a particular paper actually uses.
package sections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mirna-curator/curator/internal/model"
)

// ErrSectionResolution is returned when no heading could be chosen. It is
// fatal for the run.
var ErrSectionResolution = errors.New("section resolution failed")

// Method records how a heading was chosen.
type Method string

const (
	MethodExact     Method = "exact"
	MethodSubstring Method = "substring"
	MethodFolded    Method = "case_insensitive"
	MethodModel     Method = "model"
)

// Slot names bound by model-mediated resolution.
const (
	SlotReasoning = "section_reasoning"
	SlotChoice    = "target_section_name"
)

var hints = map[string]string{
	"methods": "Bear in mind this section is likely to contain details on the experimental techniques used.",
	"results": "Bear in mind this section is likely to contain the results of the experiments, " +
		"but may also contain the discussion of those results.",
}

// Options tune the model-mediated fallback.
type Options struct {
	MaxTokens   int
	Temperature float64
	Sampling    *model.Sampling
}

// DefaultOptions returns the defaults for the model fallback.
func DefaultOptions() Options {
	return Options{MaxTokens: 512, Temperature: 0.6}
}

// Resolution is the outcome of [Resolver.Resolve].
type Resolution struct {
	Requested string
	Name      string
	Method    Method
	Reasoning string
}

type Resolver struct {
	opts Options
}

func NewResolver(opts Options) *Resolver {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Resolver{opts: opts}
}

// Match tries the deterministic strategies: an exact match, then the first
// heading (in paper order) containing requested. Both are retried ignoring
// case before giving up.
func Match(requested string, available []string) (string, Method, bool) {
	for _, name := range available {
		if name == requested {
			return name, MethodExact, true
		}
	}
	for _, name := range available {
		if strings.Contains(name, requested) {
			return name, MethodSubstring, true
		}
	}
	for _, name := range available {
		if strings.EqualFold(name, requested) {
			return name, MethodFolded, true
		}
	}
	folded := strings.ToLower(requested)
	for _, name := range available {
		if strings.Contains(strings.ToLower(name), folded) {
			return name, MethodFolded, true
		}
	}
	return "", "", false
}

// Resolve picks the heading in available that best corresponds to requested.
// The model is consulted only when [Match] fails, in which case one user and
// one assistant turn are appended to session.
func (r *Resolver) Resolve(ctx context.Context, session model.Session, requested string, available []string) (Resolution, error) {
	if len(available) == 0 {
		return Resolution{}, fmt.Errorf("%w: paper has no sections to match %q", ErrSectionResolution, requested)
	}
	if name, method, ok := Match(requested, available); ok {
		return Resolution{Requested: requested, Name: name, Method: method}, nil
	}

	slog.Debug("Asking model to choose a section heading", "requested", requested, "available", available)

	err := model.Turn(session, model.RoleUser, func() error {
		return session.Append(fmt.Sprintf(
			"We are looking for the closest section heading to '%s' from the following possibilities: %s. "+
				"Which of the available headings is most likely to contain the information we would expect "+
				"from a section titled '%s'? %s\nThink about it briefly, then make a selection.\n",
			requested, strings.Join(available, ","), requested, hints[strings.ToLower(requested)]))
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrSectionResolution, err)
	}

	var reasoning, choice string
	err = model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append(fmt.Sprintf("The section heading %s implies ", requested)); err != nil {
			return err
		}
		var err error
		reasoning, err = session.Generate(ctx, SlotReasoning, model.GenerateOptions{
			MaxTokens:   r.opts.MaxTokens,
			Temperature: r.opts.Temperature,
			Sampling:    r.opts.Sampling,
		})
		if err != nil {
			return err
		}
		if err := session.Append(" therefore the most likely section heading is: "); err != nil {
			return err
		}
		choice, err = session.Select(ctx, SlotChoice, available, model.SelectOptions{
			Temperature: r.opts.Temperature,
			Sampling:    r.opts.Sampling,
		})
		return err
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: choosing heading for %q: %w", ErrSectionResolution, requested, err)
	}

	return Resolution{Requested: requested, Name: choice, Method: MethodModel, Reasoning: reasoning}, nil
}
