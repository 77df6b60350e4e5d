package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mirna-curator/curator/internal/model"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second

	// OpenAI rejects more than four stop sequences.
	maxStopSequences = 4
)

// OpenAIOptions configures an [OpenAI] backend.
type OpenAIOptions struct {
	Provider   string
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// PathPrefix defaults to "/v1".
	PathPrefix string
}

// OpenAI talks to any server implementing the chat-completions API.
type OpenAI struct {
	opts   OpenAIOptions
	client *http.Client

	retryDelay     time.Duration
	rateLimitDelay time.Duration
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/v1"
	}
	return &OpenAI{
		opts:           opts,
		client:         &http.Client{Timeout: opts.Timeout},
		retryDelay:     baseRetryDelay,
		rateLimitDelay: minRateLimitDelay,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`

	// Extensions understood by local servers.
	TopP              float64 `json:"top_p,omitempty"`
	TopK              int     `json:"top_k,omitempty"`
	MinP              float64 `json:"min_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Complete(ctx context.Context, req *model.CompletionRequest) (*model.Completion, error) {
	msgs := toChatMessages(req.Messages)
	if req.Prefix != "" {
		// A trailing assistant message is continued by the server.
		msgs = append(msgs, chatMessage{Role: string(req.Role), Content: req.Prefix})
	}

	stop := req.Stop
	if len(stop) > maxStopSequences {
		stop = stop[:maxStopSequences]
	}

	body := o.newRequest(msgs, req.Temperature, req.Sampling)
	body.MaxTokens = req.MaxTokens
	body.Stop = stop

	resp, err := o.chat(ctx, body)
	if err != nil {
		return nil, err
	}
	return &model.Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (o *OpenAI) Choose(ctx context.Context, req *model.ChoiceRequest) (*model.Completion, error) {
	msgs := toChatMessages(req.Messages)
	msgs = append(msgs, chatMessage{Role: string(model.RoleUser), Content: choiceInstruction(req.Prefix, req.Options)})

	body := o.newRequest(msgs, req.Temperature, req.Sampling)
	body.ResponseFormat = &responseFormat{Type: "json_object"}

	resp, err := o.chat(ctx, body)
	if err != nil {
		return nil, err
	}

	choice, err := pickOption(resp.Choices[0].Message.Content, req.Options)
	if err != nil {
		return nil, err
	}
	return &model.Completion{
		Text:             choice,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *OpenAI) newRequest(msgs []chatMessage, temperature float64, sampling *model.Sampling) chatCompletionRequest {
	body := chatCompletionRequest{
		Model:       o.opts.Model,
		Messages:    msgs,
		Temperature: temperature,
	}
	if sampling != nil {
		body.TopP = sampling.TopP
		// The hosted OpenAI API rejects the local-server extensions.
		if o.opts.Provider != "openai" {
			body.TopK = sampling.TopK
			body.MinP = sampling.MinP
			body.RepetitionPenalty = sampling.RepetitionPenalty
		}
	}
	return body
}

func (o *OpenAI) chat(ctx context.Context, body chatCompletionRequest) (*chatCompletionResponse, error) {
	respBody, err := o.doPost(ctx, o.opts.PathPrefix+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &resp, nil
}

func toChatMessages(msgs []model.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs)+1)
	for _, m := range msgs {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (o *OpenAI) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := o.opts.BaseURL + path

	var lastErr error
	rateLimited := false
	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		// A rate-limited attempt has already waited for its retry.
		if attempt > 0 && !rateLimited {
			delay := o.retryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("backend: retrying request",
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if o.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
		}

		rateLimited = false

		resp, err := o.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("model API error %d: %s", resp.StatusCode, string(respBody))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < o.opts.MaxRetries {
			delay := o.rateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
					delay = max(delay, time.Duration(secs)*time.Second)
				}
			}
			slog.Warn("backend: rate limited, waiting before retry",
				"url", url,
				"attempt", attempt+1,
				"delay", delay,
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			rateLimited = true
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
