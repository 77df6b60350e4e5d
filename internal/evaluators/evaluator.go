// Package evaluators drives the model through one flowchart step.
//
// Evaluators only append to the session they are handed. Which node comes
// next is decided by the interpreter from the returned [Outcome].
package evaluators

import (
	"context"
	"errors"
	"fmt"

	"github.com/mirna-curator/curator/internal/evidence"
	"github.com/mirna-curator/curator/internal/model"
)

var ErrNoSession = errors.New("evaluator request has no session")

// Kind identifies an evaluator implementation.
type Kind string

const (
	KindDecision     Kind = "decision"
	KindToolDecision Kind = "tool_decision"
	KindTerminal     Kind = "terminal"
	KindFilter       Kind = "filter"
)

// Session slots written by evaluators.
const (
	SlotAnswer            = "answer"
	SlotReasoning         = "reasoning"
	SlotEvidence          = evidence.Slot
	SlotDetectorReasoning = "detector_reasoning"
	SlotEntity            = "protein_name"
	SlotThought           = "thought"
	SlotAction            = "action"
	SlotArgument          = "argument"
)

// ActionFinish ends the tool loop.
const ActionFinish = "finish"

// Request is everything one step needs.
type Request struct {
	Session model.Session

	// SectionText is the resolved section. It is appended to the session
	// only when LoadText is set, but evidence is always drawn from it.
	SectionText string
	LoadText    bool

	// Shown, when set, is called once SectionText has been appended.
	Shown func()

	// Prompt is the question, or the detector prompt for terminal nodes.
	Prompt  string
	RNAID   string
	PaperID string
}

// Outcome is what a step produced. Entity is only set by terminal evaluators.
type Outcome struct {
	Answer    string
	Evidence  string
	Reasoning string
	Entity    string
}

type Evaluator interface {
	Kind() Kind
	Evaluate(ctx context.Context, req *Request) (*Outcome, error)
}

// Settings are the generation knobs shared by every evaluator.
type Settings struct {
	ReasoningTemperature float64
	ReasoningTokens      int
	SelectionTemperature float64

	FilterTemperature float64
	FilterTokens      int

	// EntityTokens bounds free generation of an entity name when no
	// candidate list exists.
	EntityTokens int

	Sampling *model.Sampling

	// Evidence extracts supporting spans. A nil extractor uses single-sentence mode.
	Evidence *evidence.Extractor
}

func DefaultSettings() Settings {
	return Settings{
		ReasoningTemperature: 0.4,
		ReasoningTokens:      512,
		SelectionTemperature: 0.1,
		FilterTemperature:    0.6,
		FilterTokens:         1024,
		EntityTokens:         32,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.ReasoningTokens <= 0 {
		s.ReasoningTokens = def.ReasoningTokens
	}
	if s.FilterTokens <= 0 {
		s.FilterTokens = def.FilterTokens
	}
	if s.EntityTokens <= 0 {
		s.EntityTokens = def.EntityTokens
	}
	if s.Evidence == nil {
		s.Evidence, _ = evidence.New(evidence.DefaultOptions())
	}
	return s
}

var yesNo = []string{"yes", "no"}

func (s Settings) reason(ctx context.Context, session model.Session, slot, lead string, temperature float64, maxTokens int) (string, error) {
	var reasoning string
	err := model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append(lead); err != nil {
			return err
		}
		var err error
		reasoning, err = session.Generate(ctx, slot, model.GenerateOptions{
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Sampling:    s.Sampling,
		})
		if err != nil {
			return err
		}
		return session.Append("\n")
	})
	return reasoning, err
}

func (s Settings) chooseYesNo(ctx context.Context, session model.Session, lead string) (string, error) {
	var answer string
	err := model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append(lead); err != nil {
			return err
		}
		var err error
		answer, err = session.Select(ctx, SlotAnswer, yesNo, model.SelectOptions{
			Temperature: s.SelectionTemperature,
			Sampling:    s.Sampling,
		})
		return err
	})
	return answer, err
}

// showSection appends the section text framed by format, if LoadText is set,
// and reports it through Shown.
func (r *Request) showSection(format string) error {
	if !r.LoadText {
		return nil
	}
	if err := r.Session.Append(fmt.Sprintf(format, r.SectionText)); err != nil {
		return err
	}
	if r.Shown != nil {
		r.Shown()
	}
	return nil
}

func validate(req *Request) error {
	if req == nil || req.Session == nil {
		return ErrNoSession
	}
	return nil
}
