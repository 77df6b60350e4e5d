package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	copilot "github.com/github/copilot-sdk/go"
	"github.com/go-viper/mapstructure/v2"
	"github.com/mirna-curator/curator/internal/model"
)

const selectToolName = "select_option"

// CopilotOptions configures a [Copilot] backend.
type CopilotOptions struct {
	// Model can be blank, in which case the copilot CLI picks its own.
	Model   string
	Timeout time.Duration

	// NewCopilotClient replaces the real client, for tests.
	NewCopilotClient func(clientOptions *copilot.ClientOptions) copilotClient
}

// Copilot runs each request in a fresh Copilot session. The session sees the
// conversation as a rendered transcript, since the SDK has no way to seed
// prior turns. Temperature and sampling settings are not supported.
type Copilot struct {
	model   string
	timeout time.Duration
	client  copilotClient

	startOnce sync.Once
	startErr  error
}

func NewCopilot(opts CopilotOptions) *Copilot {
	clientOptions := &copilot.ClientOptions{
		LogLevel:  "error",
		AutoStart: copilot.Bool(false),
	}

	newClient := newCopilotClient
	if opts.NewCopilotClient != nil {
		newClient = opts.NewCopilotClient
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Copilot{
		model:   opts.Model,
		timeout: timeout,
		client:  newClient(clientOptions),
	}
}

func (c *Copilot) Complete(ctx context.Context, req *model.CompletionRequest) (*model.Completion, error) {
	var sb strings.Builder
	writeTranscript(&sb, req.Messages, req.Role, req.Prefix)
	fmt.Fprintf(&sb, "\nContinue the final <|%s|> turn from exactly where it stops. ", req.Role)
	sb.WriteString("Reply with the continuation text only, without repeating what is already written.")
	if len(req.Stop) > 0 {
		fmt.Fprintf(&sb, " Stop before writing any of: %q.", req.Stop)
	}

	text, err := c.send(ctx, sb.String(), nil)
	if err != nil {
		return nil, err
	}
	return &model.Completion{Text: text}, nil
}

func (c *Copilot) Choose(ctx context.Context, req *model.ChoiceRequest) (*model.Completion, error) {
	var (
		mu     sync.Mutex
		chosen string
	)

	tools := []copilot.Tool{
		{
			Name:        selectToolName,
			Description: "Report the option that continues the response.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"choice": map[string]any{
						"type":        "string",
						"enum":        req.Options,
						"description": "The chosen option, copied verbatim",
					},
				},
				"required": []string{"choice"},
			},
			Handler: func(invocation copilot.ToolInvocation) (copilot.ToolResult, error) {
				var args struct {
					Choice string `mapstructure:"choice"`
				}
				if err := mapstructure.Decode(invocation.Arguments, &args); err != nil {
					slog.Debug("copilot: ignoring malformed tool arguments",
						"tool", selectToolName, "arguments", invocation.Arguments, "error", err)
					return copilot.ToolResult{}, nil
				}
				mu.Lock()
				chosen = args.Choice
				mu.Unlock()
				return copilot.ToolResult{}, nil
			},
		},
	}

	var sb strings.Builder
	writeTranscript(&sb, req.Messages, "", "")
	sb.WriteString("\n")
	sb.WriteString(choiceInstruction(req.Prefix, req.Options))
	fmt.Fprintf(&sb, "\nCall %s with your choice.", selectToolName)

	text, err := c.send(ctx, sb.String(), tools)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	raw := chosen
	mu.Unlock()
	if raw == "" {
		raw = text
	}

	choice, err := pickOption(raw, req.Options)
	if err != nil {
		return nil, err
	}
	return &model.Completion{Text: choice}, nil
}

// Close stops the Copilot client.
func (c *Copilot) Close() error {
	return c.client.Stop()
}

func (c *Copilot) send(ctx context.Context, prompt string, tools []copilot.Tool) (string, error) {
	// copilot's own autostart misbehaves when started from several goroutines.
	c.startOnce.Do(func() {
		c.startErr = c.client.Start(ctx)
	})
	if c.startErr != nil {
		return "", fmt.Errorf("copilot failed to start: %w", c.startErr)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.client.CreateSession(ctx, &copilot.SessionConfig{
		Model: c.model,
		Tools: tools,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	var (
		mu    sync.Mutex
		parts []string
	)
	unsubscribe := session.On(func(event copilot.SessionEvent) {
		if event.Type == copilot.AssistantMessage && event.Data.Content != nil {
			mu.Lock()
			parts = append(parts, *event.Data.Content)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	unsubscribe = session.On(logEvent)
	defer unsubscribe()

	resp, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("copilot session %s failed: %w", session.SessionID(), err)
	}

	if resp != nil && resp.Data.Content != nil {
		return *resp.Data.Content, nil
	}
	mu.Lock()
	defer mu.Unlock()
	return strings.Join(parts, ""), nil
}

func writeTranscript(sb *strings.Builder, msgs []model.Message, role model.Role, prefix string) {
	sb.WriteString("The conversation so far, one turn per <|role|> marker:\n\n")
	sb.WriteString(model.RenderTranscript(msgs))
	if role != "" {
		fmt.Fprintf(sb, "<|%s|>\n%s\n", role, prefix)
	}
}

// logEvent writes Copilot session events to the debug log.
func logEvent(event copilot.SessionEvent) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{"type", event.Type}
	attrs = addIf(attrs, "content", event.Data.Content)
	attrs = addIf(attrs, "toolName", event.Data.ToolName)
	attrs = addIf(attrs, "toolCallID", event.Data.ToolCallID)
	attrs = addIf(attrs, "reasoningText", event.Data.ReasoningText)

	slog.Debug("copilot event", attrs...)
}

func addIf[T any](attrs []any, name string, v *T) []any {
	if v != nil {
		attrs = append(attrs, name, *v)
	}
	return attrs
}
