// Package errors provides centralized error definitions and error handling
// utilities for the TaskMaster codebase. It defines the provider error
// taxonomy, domain-specific errors, error constructors with context wrapping,
// and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// The provider taxonomy covers every failure class an agent provider call can
// produce. Vendor SDK errors are mapped into this taxonomy exactly once, at
// the provider-client boundary; the core never inspects vendor types:
//   - RateLimit: quota exceeded, retryable with bounded backoff
//   - Authentication: invalid credentials, fatal for the run
//   - Transient: network/timeout/server errors, retryable at the call site
//   - Fatal: non-recoverable request errors, fatal for the task attempt
//
// Domain-specific errors represent errors from specific subsystems:
//   - HookError: a pre- or post-task hook failed
//   - TaskError: errors related to task execution
//
// # Usage
//
// Creating errors:
//
//	// Provider error with a retry hint
//	err := errors.NewRateLimitError("quota exceeded", 30*time.Second, cause)
//
//	// Hook failure with context
//	err := errors.NewHookError("lint failed", nil).WithHookID("lint").WithExitCode(2)
//
// Checking errors:
//
//	if errors.IsRateLimit(err) { ... }
//	if after, ok := errors.RetryAfter(err); ok { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// State-related sentinel errors
var (
	// ErrStateCorrupted indicates the persisted run state exists but cannot
	// be parsed. This is fatal to the whole run: damaged state is never
	// guessed at.
	ErrStateCorrupted = New("run state corrupted")
	// ErrStateNotFound indicates no persisted run state exists.
	ErrStateNotFound = New("run state not found")
	// ErrStateMismatch indicates persisted state belongs to a different task file.
	ErrStateMismatch = New("run state belongs to a different task file")
)

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrTaskFailed indicates that a task execution failed.
	ErrTaskFailed = New("task failed")
	// ErrDuplicateTaskID indicates two tasks share the same identifier.
	ErrDuplicateTaskID = New("duplicate task id")
)

// Run-level sentinel errors
var (
	// ErrRunInterrupted indicates the run was interrupted by the operator.
	ErrRunInterrupted = New("run interrupted")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrHookNotFound indicates a referenced hook is missing from configuration.
	ErrHookNotFound = New("hook not found in configuration")
)

// -----------------------------------------------------------------------------
// Provider Error Taxonomy
// -----------------------------------------------------------------------------

// ErrorType classifies a provider call failure.
type ErrorType string

const (
	// TypeRateLimit indicates the provider rejected the call for quota reasons.
	TypeRateLimit ErrorType = "rate_limit"
	// TypeAuthentication indicates invalid or missing credentials.
	TypeAuthentication ErrorType = "authentication"
	// TypeTransient indicates a temporary failure (network, timeout, 5xx).
	TypeTransient ErrorType = "transient"
	// TypeFatal indicates a non-recoverable request error.
	TypeFatal ErrorType = "fatal"
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return string(t)
}

// AgentError is the single error shape produced by provider clients.
// The core branches on Type only; the underlying vendor error is carried
// for diagnostics but never inspected outside the client that created it.
type AgentError struct {
	Type    ErrorType
	Message string
	// RetryAfter is the provider-supplied wait hint for rate-limit errors.
	// Zero means no hint was supplied.
	RetryAfter time.Duration
	cause      error
}

// NewAgentError creates an AgentError of the given type.
func NewAgentError(t ErrorType, message string, cause error) *AgentError {
	return &AgentError{Type: t, Message: message, cause: cause}
}

// NewRateLimitError creates a rate-limit AgentError with an optional
// retry-after hint (zero for none).
func NewRateLimitError(message string, retryAfter time.Duration, cause error) *AgentError {
	return &AgentError{
		Type:       TypeRateLimit,
		Message:    message,
		RetryAfter: retryAfter,
		cause:      cause,
	}
}

// NewAuthenticationError creates an authentication AgentError.
func NewAuthenticationError(message string, cause error) *AgentError {
	return &AgentError{Type: TypeAuthentication, Message: message, cause: cause}
}

// NewTransientError creates a transient AgentError.
func NewTransientError(message string, cause error) *AgentError {
	return &AgentError{Type: TypeTransient, Message: message, cause: cause}
}

// NewFatalError creates a fatal AgentError.
func NewFatalError(message string, cause error) *AgentError {
	return &AgentError{Type: TypeFatal, Message: message, cause: cause}
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	prefix := fmt.Sprintf("agent error [%s]", e.Type)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying vendor error.
func (e *AgentError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if other, ok := target.(*AgentError); ok {
		return other.Type == e.Type
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// HookError represents a failed pre- or post-task hook.
//
// Example:
//
//	err := errors.NewHookError("tests failed", nil).WithHookID("test").WithExitCode(1)
//	fmt.Println(err) // "hook error [hook=test, exit=1]: tests failed"
type HookError struct {
	message  string
	cause    error
	HookID   string
	ExitCode int
	TimedOut bool
}

// NewHookError creates a new HookError.
func NewHookError(message string, cause error) *HookError {
	return &HookError{message: message, cause: cause, ExitCode: -1}
}

// WithHookID adds a hook ID to the error context.
func (e *HookError) WithHookID(id string) *HookError {
	e.HookID = id
	return e
}

// WithExitCode adds the hook's exit code to the error context.
func (e *HookError) WithExitCode(code int) *HookError {
	e.ExitCode = code
	return e
}

// WithTimedOut marks the hook as having timed out.
func (e *HookError) WithTimedOut(timedOut bool) *HookError {
	e.TimedOut = timedOut
	return e
}

// Error returns the formatted error message.
func (e *HookError) Error() string {
	var parts []string
	if e.HookID != "" {
		parts = append(parts, fmt.Sprintf("hook=%s", e.HookID))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	if e.TimedOut {
		parts = append(parts, "timed_out")
	}

	prefix := "hook error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("hook error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *HookError) Is(target error) bool {
	if _, ok := target.(*HookError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// TaskError represents errors related to task execution.
//
// Example:
//
//	err := errors.NewTaskError("attempt failed", cause).WithTaskID("task-1").WithAttempt(2)
type TaskError struct {
	message string
	cause   error
	TaskID  string
	Attempt int
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{message: message, cause: cause}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithAttempt adds the 1-indexed attempt number to the error context.
func (e *TaskError) WithAttempt(n int) *TaskError {
	e.Attempt = n
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}

	prefix := "task error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("task error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	if errors.Is(target, ErrTaskFailed) {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRateLimit returns true if the error is a rate-limit provider error.
func IsRateLimit(err error) bool {
	var agentErr *AgentError
	return As(err, &agentErr) && agentErr.Type == TypeRateLimit
}

// IsAuthentication returns true if the error is an authentication failure.
func IsAuthentication(err error) bool {
	var agentErr *AgentError
	return As(err, &agentErr) && agentErr.Type == TypeAuthentication
}

// IsHookFailure returns true if the error originated from a hook.
func IsHookFailure(err error) bool {
	var hookErr *HookError
	return As(err, &hookErr)
}

// RetryAfter extracts the provider-supplied retry hint from a rate-limit
// error. The second return is false when the error carries no hint.
func RetryAfter(err error) (time.Duration, bool) {
	var agentErr *AgentError
	if !As(err, &agentErr) || agentErr.Type != TypeRateLimit {
		return 0, false
	}
	if agentErr.RetryAfter <= 0 {
		return 0, false
	}
	return agentErr.RetryAfter, true
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to persist state")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to run task %s", taskID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
