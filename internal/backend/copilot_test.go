package backend

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	copilot "github.com/github/copilot-sdk/go"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var enableCopilotTests = os.Getenv("ENABLE_COPILOT_TESTS") == "true"

func newMockedCopilot(t *testing.T) (*Copilot, *MockcopilotClient, *MockcopilotSession) {
	ctrl := gomock.NewController(t)
	clientMock := NewMockcopilotClient(ctrl)
	sessionMock := NewMockcopilotSession(ctrl)

	c := NewCopilot(CopilotOptions{
		Model: "gpt-4o-mini",
		NewCopilotClient: func(clientOptions *copilot.ClientOptions) copilotClient {
			return clientMock
		},
	})
	return c, clientMock, sessionMock
}

func contentEvent(s string) *copilot.SessionEvent {
	return &copilot.SessionEvent{
		Type: copilot.AssistantMessage,
		Data: copilot.Data{Content: &s},
	}
}

func TestCopilotComplete(t *testing.T) {
	c, clientMock, sessionMock := newMockedCopilot(t)

	unregisterCount := 0
	unregister := func() { unregisterCount++ }

	var prompt string
	clientMock.EXPECT().Start(gomock.Any())
	clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, config *copilot.SessionConfig) (copilotSession, error) {
			require.Equal(t, "gpt-4o-mini", config.Model)
			require.Empty(t, config.Tools)
			return sessionMock, nil
		})
	sessionMock.EXPECT().On(gomock.Any()).Times(2).Return(unregister)
	sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, options copilot.MessageOptions) (*copilot.SessionEvent, error) {
			prompt = options.Prompt
			return contentEvent("miR-21 represses PTEN"), nil
		})

	resp, err := c.Complete(context.Background(), &model.CompletionRequest{
		Messages: []model.Message{{Role: model.RoleUser, Content: "What does miR-21 target?"}},
		Role:     model.RoleAssistant,
		Prefix:   "Reasoning: ",
		Stop:     []string{"\n"},
	})
	require.NoError(t, err)
	require.Equal(t, "miR-21 represses PTEN", resp.Text)
	require.Equal(t, 2, unregisterCount)

	require.Contains(t, prompt, "<|user|>\nWhat does miR-21 target?\n")
	require.Contains(t, prompt, "<|assistant|>\nReasoning: \n")
	require.Contains(t, prompt, "Continue the final <|assistant|> turn")
}

func TestCopilotChooseViaTool(t *testing.T) {
	c, clientMock, sessionMock := newMockedCopilot(t)

	var config *copilot.SessionConfig
	clientMock.EXPECT().Start(gomock.Any())
	clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, cfg *copilot.SessionConfig) (copilotSession, error) {
			config = cfg
			return sessionMock, nil
		})
	sessionMock.EXPECT().On(gomock.Any()).Times(2).Return(func() {})
	sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, options copilot.MessageOptions) (*copilot.SessionEvent, error) {
			require.Len(t, config.Tools, 1)
			require.Equal(t, selectToolName, config.Tools[0].Name)
			_, err := config.Tools[0].Handler(copilot.ToolInvocation{
				Arguments: map[string]any{"choice": "no"},
			})
			require.NoError(t, err)
			return contentEvent("I picked an option."), nil
		})

	resp, err := c.Choose(context.Background(), &model.ChoiceRequest{
		Messages: []model.Message{{Role: model.RoleUser, Content: "Question?"}},
		Role:     model.RoleAssistant,
		Prefix:   "So the final answer is ",
		Options:  []string{"yes", "no"},
	})
	require.NoError(t, err)
	require.Equal(t, "no", resp.Text)
}

func TestCopilotChooseFallsBackToContent(t *testing.T) {
	c, clientMock, sessionMock := newMockedCopilot(t)

	clientMock.EXPECT().Start(gomock.Any())
	clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(sessionMock, nil)
	sessionMock.EXPECT().On(gomock.Any()).Times(2).Return(func() {})
	sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).Return(contentEvent(`{"choice": "yes"}`), nil)

	resp, err := c.Choose(context.Background(), &model.ChoiceRequest{Options: []string{"yes", "no"}})
	require.NoError(t, err)
	require.Equal(t, "yes", resp.Text)
}

func TestCopilotChooseMalformedToolArguments(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c, clientMock, sessionMock := newMockedCopilot(t)

	var config *copilot.SessionConfig
	clientMock.EXPECT().Start(gomock.Any())
	clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, cfg *copilot.SessionConfig) (copilotSession, error) {
			config = cfg
			return sessionMock, nil
		})
	sessionMock.EXPECT().On(gomock.Any()).Times(2).Return(func() {})
	sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, options copilot.MessageOptions) (*copilot.SessionEvent, error) {
			_, err := config.Tools[0].Handler(copilot.ToolInvocation{
				Arguments: map[string]any{"choice": []int{1}},
			})
			require.NoError(t, err)
			return contentEvent(`{"choice": "yes"}`), nil
		})

	resp, err := c.Choose(context.Background(), &model.ChoiceRequest{Options: []string{"yes", "no"}})
	require.NoError(t, err)
	require.Equal(t, "yes", resp.Text)
	require.Contains(t, logs.String(), "ignoring malformed tool arguments")
	require.Contains(t, logs.String(), "tool="+selectToolName)
}

func TestCopilotStartsOnce(t *testing.T) {
	c, clientMock, sessionMock := newMockedCopilot(t)

	clientMock.EXPECT().Start(gomock.Any()).Times(1)
	clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Times(2).Return(sessionMock, nil)
	clientMock.EXPECT().Stop()
	sessionMock.EXPECT().On(gomock.Any()).Times(4).Return(func() {})
	sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).Times(2).Return(contentEvent("x"), nil)

	for range 2 {
		_, err := c.Complete(context.Background(), &model.CompletionRequest{Role: model.RoleAssistant})
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())
}

func TestCopilotErrors(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		c, clientMock, _ := newMockedCopilot(t)
		clientMock.EXPECT().Start(gomock.Any()).Return(errors.New("no cli"))

		_, err := c.Complete(context.Background(), &model.CompletionRequest{Role: model.RoleAssistant})
		require.ErrorContains(t, err, "copilot failed to start: no cli")
	})

	t.Run("send", func(t *testing.T) {
		c, clientMock, sessionMock := newMockedCopilot(t)
		clientMock.EXPECT().Start(gomock.Any())
		clientMock.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(sessionMock, nil)
		sessionMock.EXPECT().On(gomock.Any()).Times(2).Return(func() {})
		sessionMock.EXPECT().SendAndWait(gomock.Any(), gomock.Any()).Return(nil, errors.New("quota"))
		sessionMock.EXPECT().SessionID().Return("session-1")

		_, err := c.Complete(context.Background(), &model.CompletionRequest{Role: model.RoleAssistant})
		require.ErrorContains(t, err, "copilot session session-1 failed: quota")
	})
}

func TestCopilotLive(t *testing.T) {
	if !enableCopilotTests {
		t.Skip("ENABLE_COPILOT_TESTS must be set in order to run live copilot tests")
	}

	c := NewCopilot(CopilotOptions{Model: "gpt-4o-mini", Timeout: 2 * time.Minute})
	defer func() { require.NoError(t, c.Close()) }()

	conv := model.NewConversation(c)
	err := model.Turn(conv, model.RoleUser, func() error {
		return conv.Append("Is the sky blue on a clear day? Answer yes or no.")
	})
	require.NoError(t, err)

	var answer string
	err = model.Turn(conv, model.RoleAssistant, func() error {
		var err error
		answer, err = conv.Select(context.Background(), "answer", []string{"yes", "no"}, model.SelectOptions{})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "yes", answer)
}
