// Package backoff wraps a single logical agent call with bounded,
// rate-limit-only retries. Any other error class propagates immediately:
// backoff exists to ride out provider throttling, not to mask failures.
package backoff

import (
	"context"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/logging"
)

// Defaults for Config fields left unset.
const (
	DefaultBase       = 2 * time.Second
	DefaultMax        = 300 * time.Second
	DefaultMaxRetries = 5
)

// Sleeper performs the retry delay. Injectable so tests run instantly.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// realSleeper sleeps on a timer, honoring context cancellation.
type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config controls retry behavior.
type Config struct {
	// Base is the first retry delay. Subsequent delays double.
	Base time.Duration `json:"base" yaml:"base" mapstructure:"base"`

	// Max caps every delay, including provider retry-after hints.
	Max time.Duration `json:"max" yaml:"max" mapstructure:"max"`

	// MaxRetries bounds the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Base <= 0 {
		c.Base = DefaultBase
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Controller retries rate-limited calls with exponential delays.
type Controller struct {
	cfg     Config
	sleeper Sleeper
	logger  *logging.Logger
}

// New creates a Controller. A nil logger is replaced with a no-op one.
func New(cfg Config, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Controller{cfg: cfg.withDefaults(), sleeper: realSleeper{}, logger: logger}
}

// WithSleeper replaces the delay implementation. For tests.
func (c *Controller) WithSleeper(s Sleeper) *Controller {
	c.sleeper = s
	return c
}

// Do executes fn, retrying only on rate-limit errors. The delay for
// retry n is the provider's retry-after hint when present, otherwise
// base·2^(n−1); both are capped at Max. When retries are exhausted the
// last rate-limit error is returned unchanged so the caller can still
// classify it.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for retry := 0; ; retry++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsRateLimit(err) {
			return err
		}
		if retry >= c.cfg.MaxRetries {
			c.logger.Warn("rate limit retries exhausted", "retries", retry)
			return err
		}

		delay := c.Delay(retry+1, err)
		c.logger.Info("rate limited, backing off",
			"retry", retry+1,
			"max_retries", c.cfg.MaxRetries,
			"delay", delay.String())

		if serr := c.sleeper.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// Delay computes the delay before retry n (1-indexed) for the given
// rate-limit error.
func (c *Controller) Delay(n int, err error) time.Duration {
	if hint, ok := errors.RetryAfter(err); ok && hint > 0 {
		return min(hint, c.cfg.Max)
	}
	d := c.cfg.Base << (n - 1)
	if d <= 0 || d > c.cfg.Max {
		return c.cfg.Max
	}
	return d
}
