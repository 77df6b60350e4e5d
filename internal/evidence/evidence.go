// Package evidence picks the passage of a section that supports a model's
// answer. Every mode returns a verbatim substring of the source text.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mirna-curator/curator/internal/model"
)

var ErrUnknownMode = errors.New("unknown evidence mode")

// Mode selects the extraction strategy.
type Mode string

const (
	SingleSentence     Mode = "single-sentence"
	SingleParagraph    Mode = "single-paragraph"
	RecursiveSentence  Mode = "recursive-sentence"
	RecursiveParagraph Mode = "recursive-paragraph"
	FullSubstring      Mode = "full-substring"
)

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{SingleSentence, SingleParagraph, RecursiveSentence, RecursiveParagraph, FullSubstring}
}

// Slot is the session slot that receives the extracted evidence.
const Slot = "evidence"

const (
	slotParagraph = "evidence_paragraph"
	slotWindow    = "evidence_window"
	slotQuote     = "evidence_quote"
)

type Options struct {
	Mode        Mode
	Temperature float64
	// MaxTokens bounds the generated quote in full-substring mode.
	MaxTokens int
	// Window is the number of paragraphs per group in recursive-paragraph mode.
	Window   int
	Sampling *model.Sampling
}

func DefaultOptions() Options {
	return Options{Mode: SingleSentence, Temperature: 0.1, MaxTokens: 256, Window: 3}
}

type Extractor struct {
	opts Options
}

func New(opts Options) (*Extractor, error) {
	if opts.Mode == "" {
		opts.Mode = SingleSentence
	}
	if !slices.Contains(Modes(), opts.Mode) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	return &Extractor{opts: opts}, nil
}

// Mode returns the configured mode.
func (e *Extractor) Mode() Mode { return e.opts.Mode }

// Extract chooses supporting evidence from source and binds it to [Slot].
// An empty source yields empty evidence without consulting the model.
func (e *Extractor) Extract(ctx context.Context, session model.Session, source string) (string, error) {
	var (
		got string
		err error
	)
	switch paras := paragraphs(source); {
	case len(paras) == 0:
	case e.opts.Mode == SingleSentence:
		got, err = e.pick(ctx, session, source, allSentences(source, paras), "sentence", Slot)
	case e.opts.Mode == SingleParagraph:
		got, err = e.pick(ctx, session, source, paras, "paragraph", Slot)
	case e.opts.Mode == RecursiveSentence:
		got, err = e.recursiveSentence(ctx, session, source, paras)
	case e.opts.Mode == RecursiveParagraph:
		got, err = e.recursiveParagraph(ctx, session, source, paras)
	case e.opts.Mode == FullSubstring:
		got, err = e.quote(ctx, session, source, paras)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s evidence: %w", e.opts.Mode, err)
	}
	session.Bind(Slot, got)
	return got, nil
}

func allSentences(src string, paras []span) []span {
	var out []span
	for _, p := range paras {
		out = append(out, sentences(src, p)...)
	}
	return out
}

func (e *Extractor) recursiveSentence(ctx context.Context, session model.Session, src string, paras []span) (string, error) {
	para, err := e.pickSpan(ctx, session, src, paras, "paragraph", slotParagraph)
	if err != nil {
		return "", err
	}
	return e.pick(ctx, session, src, sentences(src, para), "sentence", Slot)
}

func (e *Extractor) recursiveParagraph(ctx context.Context, session model.Session, src string, paras []span) (string, error) {
	groups := windows(paras, e.opts.Window)
	covers := make([]span, len(groups))
	for i, g := range groups {
		covers[i] = cover(g)
	}
	chosen, err := e.pickSpan(ctx, session, src, covers, "passage", slotWindow)
	if err != nil {
		return "", err
	}
	for i, c := range covers {
		if c == chosen {
			return e.pick(ctx, session, src, groups[i], "paragraph", Slot)
		}
	}
	return chosen.text(src), nil
}

func (e *Extractor) quote(ctx context.Context, session model.Session, src string, paras []span) (string, error) {
	if err := model.Turn(session, model.RoleUser, func() error {
		return session.Append("Quote, word for word, the part of the text that best supports your answer.\n")
	}); err != nil {
		return "", err
	}

	var quote string
	err := model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append("Quote: "); err != nil {
			return err
		}
		var err error
		quote, err = session.Generate(ctx, slotQuote, model.GenerateOptions{
			MaxTokens:   e.opts.MaxTokens,
			Temperature: e.opts.Temperature,
			Stop:        []string{"\n\n"},
			Sampling:    e.opts.Sampling,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	quote = strings.TrimSpace(strings.Trim(strings.TrimSpace(quote), `"“”`))
	if quote != "" && strings.Contains(src, quote) {
		return quote, nil
	}

	slog.Debug("Quoted evidence is not verbatim, falling back to closest sentence", "quote", quote)
	best, bestScore := "", -1
	for _, s := range allSentences(src, paras) {
		if score := overlap(quote, s.text(src)); score > bestScore {
			best, bestScore = s.text(src), score
		}
	}
	return best, nil
}

func (e *Extractor) pick(ctx context.Context, session model.Session, src string, spans []span, unit, slot string) (string, error) {
	s, err := e.pickSpan(ctx, session, src, spans, unit, slot)
	if err != nil {
		return "", err
	}
	return s.text(src), nil
}

// pickSpan asks the model to choose one of spans. A single candidate is
// returned without a model call.
func (e *Extractor) pickSpan(ctx context.Context, session model.Session, src string, spans []span, unit, slot string) (span, error) {
	if len(spans) == 1 {
		return spans[0], nil
	}

	var options []string
	bySpan := map[string]span{}
	for _, s := range spans {
		t := s.text(src)
		if _, dup := bySpan[t]; dup {
			continue
		}
		bySpan[t] = s
		options = append(options, t)
	}
	if len(options) == 1 {
		return bySpan[options[0]], nil
	}

	if err := model.Turn(session, model.RoleUser, func() error {
		return session.Append(fmt.Sprintf("Select the %s from the text that best supports your answer.\n", unit))
	}); err != nil {
		return span{}, err
	}

	var choice string
	err := model.Turn(session, model.RoleAssistant, func() error {
		if err := session.Append("Evidence: "); err != nil {
			return err
		}
		var err error
		choice, err = session.Select(ctx, slot, options, model.SelectOptions{
			Temperature: e.opts.Temperature,
			Sampling:    e.opts.Sampling,
		})
		return err
	})
	if err != nil {
		return span{}, err
	}
	return bySpan[choice], nil
}
