// Package model defines the language-model capability the curator drives.
//
// A [Session] is an append-only conversation. Text is appended inside
// role-scoped turns; generation and constrained selection continue the
// current turn and bind their output to a named slot that can be read back
// later. Backends only see whole requests and never hold conversation state
// of their own.
package model

import (
	"context"
	"errors"
)

var (
	// ErrNoTurn is returned when text is generated outside of a turn.
	ErrNoTurn = errors.New("model: no open turn")

	// ErrTurnOpen is returned when a turn is opened inside another turn.
	ErrTurnOpen = errors.New("model: turn already open")

	// ErrNoChoice is returned when a backend cannot produce one of the offered options.
	ErrNoChoice = errors.New("model: no valid choice")
)

// Role is the speaker of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one completed turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Sampling carries optional sampling overrides. Zero values mean "backend default".
type Sampling struct {
	TopP              float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" mapstructure:"top_p"`
	TopK              int     `yaml:"top_k,omitempty" json:"top_k,omitempty" mapstructure:"top_k"`
	MinP              float64 `yaml:"min_p,omitempty" json:"min_p,omitempty" mapstructure:"min_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty,omitempty" json:"repetition_penalty,omitempty" mapstructure:"repetition_penalty"`
}

// GenerateOptions bound a free-form generation.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
	Sampling    *Sampling
}

// SelectOptions tune a constrained selection.
type SelectOptions struct {
	Temperature float64
	Sampling    *Sampling
}

// Usage reports token consumption for a session.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Session is a live model conversation.
type Session interface {
	// Begin opens a turn for role. Only one turn can be open at a time.
	Begin(role Role) error

	// End closes the open turn. Closing when no turn is open is a no-op.
	End() error

	// Append adds literal text to the open turn.
	Append(text string) error

	// Generate continues the open turn with free text and binds it to slot.
	Generate(ctx context.Context, slot string, opts GenerateOptions) (string, error)

	// Select continues the open turn with exactly one of options and binds it to slot.
	Select(ctx context.Context, slot string, options []string, opts SelectOptions) (string, error)

	// Bind sets a slot without generating text.
	Bind(slot, value string)

	// Value returns the most recent value bound to slot.
	Value(slot string) (string, bool)

	// Usage reports the tokens consumed so far.
	Usage() Usage

	// Transcript renders the whole conversation, including any open turn.
	Transcript() string
}

// Turn runs fn inside a turn for role. The turn is closed even when fn fails.
func Turn(s Session, role Role, fn func() error) (err error) {
	if err := s.Begin(role); err != nil {
		return err
	}
	defer func() {
		if endErr := s.End(); err == nil {
			err = endErr
		}
	}()
	return fn()
}

// CompletionRequest asks a backend to continue a conversation.
// Prefix is the partial content of the open turn, which the backend
// continues rather than answers.
type CompletionRequest struct {
	Messages    []Message
	Role        Role
	Prefix      string
	MaxTokens   int
	Temperature float64
	Stop        []string
	Sampling    *Sampling
}

// ChoiceRequest asks a backend to pick exactly one option.
type ChoiceRequest struct {
	Messages    []Message
	Role        Role
	Prefix      string
	Options     []string
	Temperature float64
	Sampling    *Sampling
}

// Completion is a backend's answer.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Backend performs single, stateless inference calls.
type Backend interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Choose(ctx context.Context, req *ChoiceRequest) (*Completion, error)
}
