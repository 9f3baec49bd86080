// Package ratelimit implements admission control for provider calls.
// Before each agent call the engine asks whether the call would breach a
// configured quota, using the run state's usage ledger. The check is a
// pure function of the ledger, the config and the clock: no I/O, no
// caching, re-evaluated before every call.
package ratelimit

import "time"

// Dimension names a rate-limit quota dimension.
type Dimension string

const (
	DimRequestsMinute Dimension = "requests_per_minute"
	DimTokensHour     Dimension = "tokens_per_hour"
	DimTokensDay      Dimension = "tokens_per_day"
	DimTokensWeek     Dimension = "tokens_per_week"

	// DimProvider marks a pause forced by the provider itself rather
	// than a configured ceiling. Limit and Current are zero for it.
	DimProvider Dimension = "provider"
)

// Config holds optional per-provider ceilings. A zero field means
// unlimited for that dimension. Immutable per run.
type Config struct {
	MaxRequestsMinute int `json:"max_requests_minute" yaml:"max_requests_minute" mapstructure:"max_requests_minute"`
	MaxTokensHour     int `json:"max_tokens_hour" yaml:"max_tokens_hour" mapstructure:"max_tokens_hour"`
	MaxTokensDay      int `json:"max_tokens_day" yaml:"max_tokens_day" mapstructure:"max_tokens_day"`
	MaxTokensWeek     int `json:"max_tokens_week" yaml:"max_tokens_week" mapstructure:"max_tokens_week"`
}

// Unlimited reports whether no dimension is configured.
func (c Config) Unlimited() bool {
	return c.MaxRequestsMinute <= 0 && c.MaxTokensHour <= 0 &&
		c.MaxTokensDay <= 0 && c.MaxTokensWeek <= 0
}

// Usage is the read side of the usage ledger. state.RunState satisfies it.
type Usage interface {
	UsageSince(provider string, cutoff time.Time) (tokens, requests int)
}

// Decision is the outcome of an admission check. When Allowed is false,
// Dimension names the first violated quota and ResetAt is the aligned
// boundary at which that dimension's window next resets.
type Decision struct {
	Allowed   bool
	Dimension Dimension
	Limit     int
	Current   int
	ResetAt   time.Time
}

// Check decides whether a call estimated at estimate tokens may proceed
// for the given provider. Dimensions are evaluated in fixed priority
// order: requests/minute, tokens/hour, tokens/day, tokens/week. The
// first dimension that would be exceeded wins; violations are never
// aggregated.
func Check(cfg Config, ledger Usage, provider string, estimate int, now time.Time) Decision {
	now = now.UTC()

	if cfg.MaxRequestsMinute > 0 {
		_, requests := ledger.UsageSince(provider, now.Add(-time.Minute))
		if requests+1 > cfg.MaxRequestsMinute {
			return deny(DimRequestsMinute, cfg.MaxRequestsMinute, requests, nextMinute(now))
		}
	}
	if cfg.MaxTokensHour > 0 {
		tokens, _ := ledger.UsageSince(provider, now.Add(-time.Hour))
		if tokens+estimate > cfg.MaxTokensHour {
			return deny(DimTokensHour, cfg.MaxTokensHour, tokens, nextHour(now))
		}
	}
	if cfg.MaxTokensDay > 0 {
		tokens, _ := ledger.UsageSince(provider, now.Add(-24*time.Hour))
		if tokens+estimate > cfg.MaxTokensDay {
			return deny(DimTokensDay, cfg.MaxTokensDay, tokens, nextUTCMidnight(now))
		}
	}
	if cfg.MaxTokensWeek > 0 {
		tokens, _ := ledger.UsageSince(provider, now.Add(-7*24*time.Hour))
		if tokens+estimate > cfg.MaxTokensWeek {
			return deny(DimTokensWeek, cfg.MaxTokensWeek, tokens, nextMondayMidnight(now))
		}
	}

	return Decision{Allowed: true}
}

func deny(dim Dimension, limit, current int, resetAt time.Time) Decision {
	return Decision{
		Dimension: dim,
		Limit:     limit,
		Current:   current,
		ResetAt:   resetAt,
	}
}

// nextMinute returns the next minute-aligned boundary after now.
func nextMinute(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}

// nextHour returns the next hour-aligned boundary after now.
func nextHour(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

// nextUTCMidnight returns the next UTC midnight after now.
func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// nextMondayMidnight returns the next Monday UTC midnight after now.
func nextMondayMidnight(now time.Time) time.Time {
	midnight := nextUTCMidnight(now)
	for midnight.Weekday() != time.Monday {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight
}
