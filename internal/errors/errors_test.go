package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestAgentErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        *AgentError
		wantType   ErrorType
		rateLimit  bool
		authFailed bool
	}{
		{
			name:      "rate limit",
			err:       NewRateLimitError("quota exceeded", 0, nil),
			wantType:  TypeRateLimit,
			rateLimit: true,
		},
		{
			name:     "transient",
			err:      NewTransientError("connection reset", nil),
			wantType: TypeTransient,
		},
		{
			name:       "authentication",
			err:        NewAuthenticationError("bad key", nil),
			wantType:   TypeAuthentication,
			authFailed: true,
		},
		{
			name:     "fatal",
			err:      NewFatalError("invalid request", nil),
			wantType: TypeFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if got := IsRateLimit(tt.err); got != tt.rateLimit {
				t.Errorf("IsRateLimit() = %v, want %v", got, tt.rateLimit)
			}
			if got := IsAuthentication(tt.err); got != tt.authFailed {
				t.Errorf("IsAuthentication() = %v, want %v", got, tt.authFailed)
			}
		})
	}
}

func TestAgentErrorWrapped(t *testing.T) {
	// Classification must survive fmt.Errorf %w wrapping.
	base := NewRateLimitError("quota exceeded", 30*time.Second, nil)
	wrapped := fmt.Errorf("calling provider: %w", base)

	if !IsRateLimit(wrapped) {
		t.Error("IsRateLimit() = false for wrapped rate-limit error")
	}

	after, ok := RetryAfter(wrapped)
	if !ok {
		t.Fatal("RetryAfter() ok = false, want true")
	}
	if after != 30*time.Second {
		t.Errorf("RetryAfter() = %v, want 30s", after)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     time.Duration
		wantHint bool
	}{
		{
			name:     "hint present",
			err:      NewRateLimitError("slow down", 10*time.Second, nil),
			want:     10 * time.Second,
			wantHint: true,
		},
		{
			name:     "no hint",
			err:      NewRateLimitError("slow down", 0, nil),
			wantHint: false,
		},
		{
			name:     "not a rate limit error",
			err:      NewTransientError("oops", nil),
			wantHint: false,
		},
		{
			name:     "plain error",
			err:      New("boom"),
			wantHint: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RetryAfter(tt.err)
			if ok != tt.wantHint {
				t.Fatalf("RetryAfter() ok = %v, want %v", ok, tt.wantHint)
			}
			if got != tt.want {
				t.Errorf("RetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHookErrorFormatting(t *testing.T) {
	err := NewHookError("tests failed", nil).WithHookID("test").WithExitCode(1)
	want := "hook error [hook=test, exit=1]: tests failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if !IsHookFailure(err) {
		t.Error("IsHookFailure() = false, want true")
	}
	if !Is(fmt.Errorf("post hooks: %w", err), &HookError{}) {
		t.Error("Is() did not match wrapped HookError")
	}
}

func TestTaskErrorIs(t *testing.T) {
	err := NewTaskError("attempt failed", ErrTaskFailed).WithTaskID("t1").WithAttempt(2)

	if !Is(err, ErrTaskFailed) {
		t.Error("Is(err, ErrTaskFailed) = false, want true")
	}

	var taskErr *TaskError
	if !As(err, &taskErr) {
		t.Fatal("As() failed for TaskError")
	}
	if taskErr.TaskID != "t1" {
		t.Errorf("TaskID = %q, want %q", taskErr.TaskID, "t1")
	}
	if taskErr.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", taskErr.Attempt)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := ErrStateCorrupted
	wrapped := Wrapf(base, "loading %s", "state.json")
	if !Is(wrapped, ErrStateCorrupted) {
		t.Error("wrapped error lost sentinel identity")
	}
}
