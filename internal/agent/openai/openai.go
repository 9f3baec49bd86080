// Package openai implements the agent.Client boundary for
// OpenAI-compatible chat-completion APIs.
package openai

import (
	"context"
	"net"
	"strconv"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/Iron-Ham/taskmaster/internal/agent"
	"github.com/Iron-Ham/taskmaster/internal/errors"
)

func init() {
	agent.RegisterProvider("openai", func(opts agent.Options) (agent.Client, error) {
		return New(opts), nil
	})
}

// Client is an OpenAI-backed agent client.
type Client struct {
	client *goopenai.Client
	model  string
}

// New creates a Client from factory options.
func New(opts agent.Options) *Client {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		client: goopenai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// EstimateTokens approximates the token cost of a prompt.
func (c *Client) EstimateTokens(prompt string) int {
	return agent.EstimateTokens(prompt)
}

// GenerateCompletion performs one chat-completion call. API errors are
// mapped into the shared taxonomy before returning.
func (c *Client) GenerateCompletion(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResponse, error) {
	var messages []goopenai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return agent.CompletionResponse{}, classify(err)
	}

	if len(resp.Choices) == 0 {
		return agent.CompletionResponse{}, errors.NewTransientError("empty completion response", nil)
	}

	choice := resp.Choices[0]
	return agent.CompletionResponse{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: agent.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// classify maps an SDK error into the shared taxonomy. Status codes:
// 429 is a rate limit, 401/403 authentication, 5xx and network errors
// transient, everything else fatal.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errors.NewRateLimitError(apiErr.Message, retryAfterHint(apiErr), err)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return errors.NewAuthenticationError(apiErr.Message, err)
		case apiErr.HTTPStatusCode >= 500:
			return errors.NewTransientError(apiErr.Message, err)
		default:
			return errors.NewFatalError(apiErr.Message, err)
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 500 {
			return errors.NewTransientError(reqErr.Error(), err)
		}
		return errors.NewFatalError(reqErr.Error(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTransientError("request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTransientError("request deadline exceeded", err)
	}

	return errors.NewTransientError(err.Error(), err)
}

// retryAfterHint extracts a retry-after duration from the error code
// field when the API encodes seconds there. Absent or unparsable hints
// yield zero, which defers to exponential backoff.
func retryAfterHint(apiErr *goopenai.APIError) time.Duration {
	code, ok := apiErr.Code.(string)
	if !ok {
		return 0
	}
	secs, err := strconv.Atoi(code)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
