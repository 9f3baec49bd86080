package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidDecisions returns the decisions accepted for
// engine.default_decision.
func ValidDecisions() []string {
	return []string{"retry", "skip", "abort"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateProviders()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateHooks()...)
	errors = append(errors, c.validateBackoff()...)

	return errors
}

func (c *Config) validateProviders() []ValidationError {
	var errors []ValidationError

	if _, ok := c.Providers[c.ActiveProvider]; !ok {
		errors = append(errors, ValidationError{
			Field:   "active_provider",
			Value:   c.ActiveProvider,
			Message: "active provider not found in providers",
		})
	}

	for name, p := range c.Providers {
		field := "providers." + name

		if p.ResolveAPIKey() == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".api_key",
				Value:   "",
				Message: "no API key configured; set api_key, api_key_env, or the referenced environment variable",
			})
		}
		if p.Model == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".model",
				Value:   "",
				Message: "model must be set",
			})
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errors = append(errors, ValidationError{
				Field:   field + ".temperature",
				Value:   p.Temperature,
				Message: "temperature must be between 0.0 and 2.0",
			})
		}

		rl := p.RateLimits
		for _, lim := range []struct {
			name  string
			value int
		}{
			{"max_requests_minute", rl.MaxRequestsMinute},
			{"max_tokens_hour", rl.MaxTokensHour},
			{"max_tokens_day", rl.MaxTokensDay},
			{"max_tokens_week", rl.MaxTokensWeek},
		} {
			if lim.value < 0 {
				errors = append(errors, ValidationError{
					Field:   field + ".rate_limits." + lim.name,
					Value:   lim.value,
					Message: "must be >= 0 (0 means unlimited)",
				})
			}
		}
	}

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	if c.Engine.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.max_attempts",
			Value:   c.Engine.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	if !slices.Contains(ValidDecisions(), c.Engine.DefaultDecision) {
		errors = append(errors, ValidationError{
			Field:   "engine.default_decision",
			Value:   c.Engine.DefaultDecision,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDecisions(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateHooks() []ValidationError {
	var errors []ValidationError

	for id, h := range c.Hooks {
		if strings.TrimSpace(h.Command) == "" {
			errors = append(errors, ValidationError{
				Field:   "hooks." + id + ".command",
				Value:   h.Command,
				Message: "command must not be empty",
			})
		}
		if h.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   "hooks." + id + ".timeout",
				Value:   h.Timeout,
				Message: "timeout must not be negative",
			})
		}
	}

	return errors
}

func (c *Config) validateBackoff() []ValidationError {
	var errors []ValidationError

	if c.Backoff.Base < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.base",
			Value:   c.Backoff.Base,
			Message: "must not be negative",
		})
	}
	if c.Backoff.Max < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.max",
			Value:   c.Backoff.Max,
			Message: "must not be negative",
		})
	}
	if c.Backoff.Max > 0 && c.Backoff.Base > c.Backoff.Max {
		errors = append(errors, ValidationError{
			Field:   "backoff.base",
			Value:   c.Backoff.Base,
			Message: "must not exceed backoff.max",
		})
	}
	if c.Backoff.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.max_retries",
			Value:   c.Backoff.MaxRetries,
			Message: "must not be negative",
		})
	}

	return errors
}
