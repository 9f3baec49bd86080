// Package agent defines the provider boundary: the Client interface the
// execution engine calls, the request/response types crossing it, and a
// factory selecting a concrete provider by name.
//
// Provider errors are mapped into the internal/errors taxonomy once, at
// the client boundary. The engine never inspects vendor SDK types.
package agent

import (
	"context"
	"strings"

	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
)

// CompletionRequest is one prompt sent to a provider.
type CompletionRequest struct {
	// System is the optional system prompt.
	System string

	// Prompt is the user-visible task prompt.
	Prompt string

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls sampling. Zero uses the provider default.
	Temperature float32
}

// Usage reports token consumption for one completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the provider's answer to one request.
type CompletionResponse struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
}

// Client is a provider-agnostic agent client. Implementations map their
// vendor's errors to the internal/errors taxonomy before returning.
type Client interface {
	// GenerateCompletion performs one blocking completion call.
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	// EstimateTokens approximates the token cost of a prompt for
	// admission checks.
	EstimateTokens(prompt string) int
}

// Options configures the factory.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// Factory constructs a client from options.
type Factory func(opts Options) (Client, error)

var providerFactories = map[string]Factory{}

// RegisterProvider installs a factory under a provider name. Concrete
// provider packages call this from init.
func RegisterProvider(name string, f Factory) {
	providerFactories[strings.ToLower(name)] = f
}

// NewClient constructs a client for opts.Provider. Provider packages
// register themselves from init, so the caller must import them
// (blank imports in the command layer).
func NewClient(opts Options) (Client, error) {
	f, ok := providerFactories[strings.ToLower(opts.Provider)]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown provider %q", opts.Provider)
	}
	if opts.APIKey == "" {
		return nil, errors.NewAuthenticationError("no API key configured for provider "+opts.Provider, nil)
	}
	return f(opts)
}

// Providers lists the registered provider names.
func Providers() []string {
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	return names
}

// EstimateTokens is the shared estimate used by clients that have no
// provider-side tokenizer.
func EstimateTokens(prompt string) int {
	return ratelimit.EstimateTokens(prompt)
}
