// Package modeltest provides a scripted [model.Backend] for tests.
package modeltest

import (
	"context"
	"strings"
	"sync"

	"github.com/mirna-curator/curator/internal/model"
)

// Backend answers from caller-supplied functions and records every request.
//
// When CompleteFunc is nil, completions return DefaultText. When ChooseFunc
// is nil, the first option is chosen.
type Backend struct {
	CompleteFunc func(req *model.CompletionRequest) (string, error)
	ChooseFunc   func(req *model.ChoiceRequest) (string, error)
	DefaultText  string

	mu        sync.Mutex
	completes []*model.CompletionRequest
	chooses   []*model.ChoiceRequest
}

func (b *Backend) Complete(ctx context.Context, req *model.CompletionRequest) (*model.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.completes = append(b.completes, req)
	b.mu.Unlock()

	text := b.DefaultText
	if b.CompleteFunc != nil {
		var err error
		if text, err = b.CompleteFunc(req); err != nil {
			return nil, err
		}
	}
	return &model.Completion{Text: text}, nil
}

func (b *Backend) Choose(ctx context.Context, req *model.ChoiceRequest) (*model.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.chooses = append(b.chooses, req)
	b.mu.Unlock()

	if b.ChooseFunc == nil {
		return &model.Completion{Text: req.Options[0]}, nil
	}
	text, err := b.ChooseFunc(req)
	if err != nil {
		return nil, err
	}
	return &model.Completion{Text: text}, nil
}

// CompleteCalls returns the completion requests seen so far.
func (b *Backend) CompleteCalls() []*model.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.CompletionRequest(nil), b.completes...)
}

// ChooseCalls returns the choice requests seen so far.
func (b *Backend) ChooseCalls() []*model.ChoiceRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.ChoiceRequest(nil), b.chooses...)
}

// LastUser returns the content of the most recent completed user turn.
func LastUser(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// IsYesNo reports whether req is a yes/no question.
func IsYesNo(req *model.ChoiceRequest) bool {
	if len(req.Options) != 2 {
		return false
	}
	return req.Options[0] == "yes" && req.Options[1] == "no"
}

// Answers returns a ChooseFunc that answers yes/no questions by looking up
// the first key of answers contained in the last user turn. Unmatched yes/no
// questions get "no"; other choices get their first option.
func Answers(answers map[string]string) func(*model.ChoiceRequest) (string, error) {
	return func(req *model.ChoiceRequest) (string, error) {
		if !IsYesNo(req) {
			return req.Options[0], nil
		}
		last := LastUser(req.Messages)
		for question, answer := range answers {
			if strings.Contains(last, question) {
				return answer, nil
			}
		}
		return "no", nil
	}
}
