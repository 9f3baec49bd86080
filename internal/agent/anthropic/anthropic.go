// Package anthropic implements the agent.Client boundary for the Claude
// Messages API over plain HTTP.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/agent"
	"github.com/Iron-Ham/taskmaster/internal/errors"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
	requestTimeout   = 5 * time.Minute
)

func init() {
	agent.RegisterProvider("claude", func(opts agent.Options) (agent.Client, error) {
		return New(opts), nil
	})
	agent.RegisterProvider("anthropic", func(opts agent.Options) (agent.Client, error) {
		return New(opts), nil
	})
}

// Client is a Claude-backed agent client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// New creates a Client from factory options.
func New(opts agent.Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
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

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateCompletion performs one Messages API call. HTTP-level errors
// are mapped into the shared taxonomy before returning.
func (c *Client) GenerateCompletion(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
		System:    req.System,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return agent.CompletionResponse{}, errors.NewFatalError("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return agent.CompletionResponse{}, errors.NewFatalError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return agent.CompletionResponse{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return agent.CompletionResponse{}, errors.NewTransientError("read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return agent.CompletionResponse{}, classifyStatus(resp, data)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return agent.CompletionResponse{}, errors.NewTransientError("decode response", err)
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return agent.CompletionResponse{
		Content: content,
		Model:   parsed.Model,
		Usage: agent.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		FinishReason: parsed.StopReason,
	}, nil
}

// classifyStatus maps a non-200 response into the shared taxonomy.
// 429 and the Anthropic overloaded status 529 are rate limits, 401/403
// authentication, other 5xx transient, anything else fatal.
func classifyStatus(resp *http.Response, body []byte) error {
	msg := errorMessage(body, resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 529:
		return errors.NewRateLimitError(msg, retryAfter(resp.Header), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewAuthenticationError(msg, nil)
	case resp.StatusCode >= 500:
		return errors.NewTransientError(msg, nil)
	default:
		return errors.NewFatalError(msg, nil)
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTransientError("request timed out", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewTransientError(err.Error(), err)
}

func errorMessage(body []byte, status int) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fmt.Sprintf("anthropic API returned status %d", status)
}

// retryAfter parses the Retry-After header as delay seconds. Zero means
// no usable hint.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
