package evaluators

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/tools"
)

// DefaultMaxIterations caps the thought/action/observation loop.
const DefaultMaxIterations = 5

// ToolDecision is a [Decision] that may consult external tools before
// answering.
type ToolDecision struct {
	settings      Settings
	tools         []tools.Tool
	maxIterations int
}

func NewToolDecision(settings Settings, available []tools.Tool, maxIterations int) *ToolDecision {
	if maxIterations <= 0 || maxIterations > DefaultMaxIterations {
		maxIterations = DefaultMaxIterations
	}
	return &ToolDecision{
		settings:      settings.withDefaults(),
		tools:         available,
		maxIterations: maxIterations,
	}
}

func (*ToolDecision) Kind() Kind { return KindToolDecision }

func (d *ToolDecision) Evaluate(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	actions := make([]string, 0, len(d.tools)+1)
	byName := make(map[string]tools.Tool, len(d.tools))
	var sb strings.Builder
	sb.WriteString("Before answering you may use these tools, one call at a time:\n")
	for _, t := range d.tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
		actions = append(actions, t.Name())
		byName[t.Name()] = t
	}
	fmt.Fprintf(&sb, "- %s: stop using tools and answer the question\n", ActionFinish)
	sb.WriteString("For each step give a thought, an action and the argument for that action.\n")
	actions = append(actions, ActionFinish)

	if err := frameQuestion(req, sb.String()); err != nil {
		return nil, err
	}

	for i := range d.maxIterations {
		action, arg, err := d.step(ctx, req.Session, actions)
		if err != nil {
			return nil, err
		}
		if action == ActionFinish {
			break
		}

		observation, err := byName[action].Call(ctx, arg)
		if err != nil {
			slog.Warn("Tool call failed", "tool", action, "argument", arg, "iteration", i, "error", err)
			observation = fmt.Sprintf("The %s tool failed: %v", action, err)
		}
		if err := model.Turn(req.Session, model.RoleUser, func() error {
			return req.Session.Append(fmt.Sprintf("Observation: %s\n", observation))
		}); err != nil {
			return nil, err
		}
	}

	return d.settings.conclude(ctx, req)
}

func (d *ToolDecision) step(ctx context.Context, session model.Session, actions []string) (action, arg string, err error) {
	opts := model.GenerateOptions{
		MaxTokens:   d.settings.ReasoningTokens,
		Temperature: d.settings.ReasoningTemperature,
		Stop:        []string{"\n"},
		Sampling:    d.settings.Sampling,
	}
	err = model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append("Thought: "); err != nil {
			return err
		}
		if _, err := session.Generate(ctx, SlotThought, opts); err != nil {
			return err
		}
		if err := session.Append("\nAction: "); err != nil {
			return err
		}
		var err error
		action, err = session.Select(ctx, SlotAction, actions, model.SelectOptions{
			Temperature: d.settings.SelectionTemperature,
			Sampling:    d.settings.Sampling,
		})
		if err != nil || action == ActionFinish {
			return err
		}
		if err := session.Append("\nArgument: "); err != nil {
			return err
		}
		arg, err = session.Generate(ctx, SlotArgument, opts)
		return err
	})
	return action, strings.TrimSpace(arg), err
}
