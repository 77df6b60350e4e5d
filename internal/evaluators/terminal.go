package evaluators

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirna-curator/curator/internal/markdown"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/tools"
)

// Terminal runs a detector prompt to name the entity the RNA regulates.
type Terminal struct {
	settings Settings
	lister   tools.EntityLister
}

// NewTerminal creates a terminal evaluator. lister may be nil, in which case
// the entity is generated rather than selected.
func NewTerminal(settings Settings, lister tools.EntityLister) *Terminal {
	return &Terminal{settings: settings.withDefaults(), lister: lister}
}

func (*Terminal) Kind() Kind { return KindTerminal }

func (t *Terminal) Evaluate(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	session := req.Session
	var candidates []string
	err := model.Turn(session, model.RoleUser, func() error {
		if err := req.showSection("Consider the following text: \n%s\n\n"); err != nil {
			return err
		}
		if t.lister != nil {
			names, err := t.lister.Entities(ctx, req.PaperID)
			if err != nil {
				return fmt.Errorf("listing entities for %s: %w", req.PaperID, err)
			}
			candidates = dedupe(names)
		}

		var sb strings.Builder
		sb.WriteString(req.Prompt)
		fmt.Fprintf(&sb, "\nThink about the regulatory target of %s.", req.RNAID)
		if len(candidates) > 0 {
			fmt.Fprintf(&sb, " The target must be one of: %s.", strings.Join(candidates, ", "))
		}
		sb.WriteString("\nExplain your reasoning step by step, then name the target.")
		return session.Append(sb.String())
	})
	if err != nil {
		return nil, err
	}

	s := t.settings
	reasoning, err := s.reason(ctx, session, SlotDetectorReasoning, "Reasoning: ", s.ReasoningTemperature, s.ReasoningTokens)
	if err != nil {
		return nil, err
	}

	var entity string
	err = model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append(fmt.Sprintf("The target of %s is ", req.RNAID)); err != nil {
			return err
		}
		var err error
		if len(candidates) > 0 {
			entity, err = session.Select(ctx, SlotEntity, candidates, model.SelectOptions{
				Temperature: s.SelectionTemperature,
				Sampling:    s.Sampling,
			})
			return err
		}
		entity, err = session.Generate(ctx, SlotEntity, model.GenerateOptions{
			MaxTokens:   s.EntityTokens,
			Temperature: s.SelectionTemperature,
			Stop:        []string{"\n"},
			Sampling:    s.Sampling,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	ev, err := s.Evidence.Extract(ctx, session, req.SectionText)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Evidence:  ev,
		Reasoning: reasoning,
		Entity:    strings.TrimSpace(markdown.PlainText(entity)),
	}, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
