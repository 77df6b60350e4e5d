package evaluators

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirna-curator/curator/internal/model"
)

// Decision answers a yes/no question about a section.
type Decision struct {
	settings Settings
}

func NewDecision(settings Settings) *Decision {
	return &Decision{settings: settings.withDefaults()}
}

func (*Decision) Kind() Kind { return KindDecision }

func (d *Decision) Evaluate(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := frameQuestion(req, ""); err != nil {
		return nil, err
	}
	return d.settings.conclude(ctx, req)
}

// frameQuestion opens the user turn shared by both decision evaluators.
func frameQuestion(req *Request, extra string) error {
	return model.Turn(req.Session, model.RoleUser, func() error {
		if err := req.showSection("You will be asked a yes/no question about the following text: \n%s\n\n"); err != nil {
			return err
		}
		var sb strings.Builder
		if !req.LoadText {
			sb.WriteString("You will be asked a yes/no question about the text you have already seen.\n\n")
		}
		fmt.Fprintf(&sb, "Question: %s\n", req.Prompt)
		if req.RNAID != "" {
			fmt.Fprintf(&sb, "If more than one RNA is discussed, consider only %s.\n", req.RNAID)
		}
		sb.WriteString(extra)
		sb.WriteString("Explain your reasoning step by step, and answer yes or no")
		return req.Session.Append(sb.String())
	})
}

// conclude reasons, chooses yes or no, and extracts evidence from the section.
func (s Settings) conclude(ctx context.Context, req *Request) (*Outcome, error) {
	reasoning, err := s.reason(ctx, req.Session, SlotReasoning, "", s.ReasoningTemperature, s.ReasoningTokens)
	if err != nil {
		return nil, err
	}
	answer, err := s.chooseYesNo(ctx, req.Session, "So the final answer is ")
	if err != nil {
		return nil, err
	}
	ev, err := s.Evidence.Extract(ctx, req.Session, req.SectionText)
	if err != nil {
		return nil, err
	}
	return &Outcome{Answer: answer, Evidence: ev, Reasoning: reasoning}, nil
}
