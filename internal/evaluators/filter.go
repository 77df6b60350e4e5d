package evaluators

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mirna-curator/curator/internal/model"
)

// Filter gates a branch with a yes/no question. It reports an answer and
// reasoning but no evidence.
type Filter struct {
	settings Settings
}

func NewFilter(settings Settings) *Filter {
	return &Filter{settings: settings.withDefaults()}
}

func (*Filter) Kind() Kind { return KindFilter }

func (f *Filter) Evaluate(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	session := req.Session
	err := model.Turn(session, model.RoleUser, func() error {
		if err := req.showSection("You will be asked a question about the following text: \n%s\n\n"); err != nil {
			return err
		}
		return session.Append(fmt.Sprintf("Question: %s. Restrict your answer to the target of %s. ", req.Prompt, req.RNAID))
	})
	if err != nil {
		return nil, err
	}

	usage := session.Usage()
	slog.Debug("Filter prompt appended", "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "total_tokens", usage.Total())

	s := f.settings
	reasoning, err := s.reason(ctx, session, SlotReasoning, "Reasoning: ", s.FilterTemperature, s.FilterTokens)
	if err != nil {
		return nil, err
	}
	answer, err := s.chooseYesNo(ctx, session, "The final answer, based on my reasoning above is: ")
	if err != nil {
		return nil, err
	}
	return &Outcome{Answer: answer, Reasoning: reasoning}, nil
}
