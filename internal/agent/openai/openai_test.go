package openai

import (
	"testing"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/Iron-Ham/taskmaster/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorType
	}{
		{
			"429 is rate limit",
			&goopenai.APIError{HTTPStatusCode: 429, Message: "rate limit reached"},
			errors.TypeRateLimit,
		},
		{
			"401 is authentication",
			&goopenai.APIError{HTTPStatusCode: 401, Message: "invalid api key"},
			errors.TypeAuthentication,
		},
		{
			"403 is authentication",
			&goopenai.APIError{HTTPStatusCode: 403, Message: "forbidden"},
			errors.TypeAuthentication,
		},
		{
			"503 is transient",
			&goopenai.APIError{HTTPStatusCode: 503, Message: "overloaded"},
			errors.TypeTransient,
		},
		{
			"400 is fatal",
			&goopenai.APIError{HTTPStatusCode: 400, Message: "bad request"},
			errors.TypeFatal,
		},
		{
			"404 is fatal",
			&goopenai.APIError{HTTPStatusCode: 404, Message: "model not found"},
			errors.TypeFatal,
		},
		{
			"unknown error is transient",
			errors.New("connection reset"),
			errors.TypeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			var agentErr *errors.AgentError
			if !errors.As(got, &agentErr) {
				t.Fatalf("classify(%v) = %v, not an AgentError", tt.err, got)
			}
			if agentErr.Type != tt.want {
				t.Errorf("classify(%v) Type = %q, want %q", tt.err, agentErr.Type, tt.want)
			}
		})
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	apiErr := &goopenai.APIError{HTTPStatusCode: 429, Message: "throttled"}
	got := classify(apiErr)

	var unwrapped *goopenai.APIError
	if !errors.As(got, &unwrapped) {
		t.Errorf("classify() lost the underlying API error: %v", got)
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name string
		code any
		want time.Duration
	}{
		{"seconds in code", "25", 25 * time.Second},
		{"non-numeric code", "rate_limit_exceeded", 0},
		{"nil code", nil, 0},
		{"negative", "-5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &goopenai.APIError{HTTPStatusCode: 429, Code: tt.code}
			if got := retryAfterHint(apiErr); got != tt.want {
				t.Errorf("retryAfterHint() = %v, want %v", got, tt.want)
			}
		})
	}
}
