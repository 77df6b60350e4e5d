package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mirna-curator/curator/internal/tokens"
)

// Conversation is the [Session] implementation used by the curator. It keeps
// the transcript locally and sends the whole conversation to its [Backend]
// on every generation call.
type Conversation struct {
	backend Backend
	counter tokens.Counter

	mu       sync.Mutex
	messages []Message
	open     *Message
	slots    map[string]string
	usage    Usage
}

// ConversationOption configures a [Conversation].
type ConversationOption func(*Conversation)

// WithCounter replaces the token counter used when a backend reports no usage.
func WithCounter(c tokens.Counter) ConversationOption {
	return func(conv *Conversation) { conv.counter = c }
}

// NewConversation starts an empty conversation against backend.
func NewConversation(backend Backend, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		backend: backend,
		counter: tokens.NewEstimatingCounter(),
		slots:   map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conversation) Begin(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil {
		return fmt.Errorf("%w: cannot begin %s turn inside %s turn", ErrTurnOpen, role, c.open.Role)
	}
	c.open = &Message{Role: role}
	return nil
}

func (c *Conversation) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil {
		return nil
	}
	c.messages = append(c.messages, *c.open)
	c.open = nil
	return nil
}

func (c *Conversation) Append(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil {
		return ErrNoTurn
	}
	c.open.Content += text
	return nil
}

func (c *Conversation) Generate(ctx context.Context, slot string, opts GenerateOptions) (string, error) {
	c.mu.Lock()
	if c.open == nil {
		c.mu.Unlock()
		return "", ErrNoTurn
	}
	req := &CompletionRequest{
		Messages:    c.history(),
		Role:        c.open.Role,
		Prefix:      c.open.Content,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
		Sampling:    opts.Sampling,
	}
	c.mu.Unlock()

	resp, err := c.backend.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generating %q: %w", slot, err)
	}

	text := cutAtStop(resp.Text, opts.Stop)
	if opts.MaxTokens > 0 {
		text = tokens.Truncate(text, opts.MaxTokens)
	}
	c.commit(slot, text, req.Messages, req.Prefix, resp)
	return text, nil
}

func (c *Conversation) Select(ctx context.Context, slot string, options []string, opts SelectOptions) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("%w: no options offered for %q", ErrNoChoice, slot)
	}

	c.mu.Lock()
	if c.open == nil {
		c.mu.Unlock()
		return "", ErrNoTurn
	}
	req := &ChoiceRequest{
		Messages:    c.history(),
		Role:        c.open.Role,
		Prefix:      c.open.Content,
		Options:     append([]string(nil), options...),
		Temperature: opts.Temperature,
		Sampling:    opts.Sampling,
	}
	c.mu.Unlock()

	resp, err := c.backend.Choose(ctx, req)
	if err != nil {
		return "", fmt.Errorf("selecting %q: %w", slot, err)
	}

	choice, ok := MatchOption(resp.Text, options)
	if !ok {
		return "", fmt.Errorf("%w: %q is not one of %d options for %q", ErrNoChoice, resp.Text, len(options), slot)
	}
	c.commit(slot, choice, req.Messages, req.Prefix, resp)
	return choice, nil
}

func (c *Conversation) Bind(slot, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slot] = value
}

func (c *Conversation) Value(slot string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.slots[slot]
	return v, ok
}

func (c *Conversation) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Messages returns the completed turns.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history()
}

func (c *Conversation) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.history()
	if c.open != nil {
		msgs = append(msgs, *c.open)
	}
	return RenderTranscript(msgs)
}

// RenderTranscript serialises messages with role markers.
func RenderTranscript(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "<|%s|>\n%s\n", m.Role, m.Content)
	}
	return sb.String()
}

// MatchOption maps raw model output onto one of options. Exact matches win,
// then a trimmed case-insensitive match.
func MatchOption(raw string, options []string) (string, bool) {
	for _, o := range options {
		if raw == o {
			return o, true
		}
	}
	trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'*.`))
	for _, o := range options {
		if strings.EqualFold(trimmed, o) {
			return o, true
		}
	}
	return "", false
}

func (c *Conversation) history() []Message {
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) commit(slot, text string, sent []Message, prefix string, resp *Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil {
		c.open.Content += text
	}
	c.slots[slot] = text

	in, out := resp.PromptTokens, resp.CompletionTokens
	if in == 0 {
		in = c.counter.Count(RenderTranscript(sent)) + c.counter.Count(prefix)
	}
	if out == 0 {
		out = c.counter.Count(text)
	}
	c.usage.InputTokens += in
	c.usage.OutputTokens += out
}

func cutAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
