// Package retry wraps operations with a configurable retry policy: fixed or
// exponential backoff, retry-on-result predicates, success/failure callbacks
// and an optional swallow-and-return-default failure mode.
package retry

import (
	"context"
	"time"

	avast "github.com/avast/retry-go"

	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Strategy selects the wait progression between attempts.
type Strategy string

const (
	// Fixed waits the same delay between every attempt.
	Fixed Strategy = "fixed"
	// Exponential doubles the delay after each attempt, capped at MaxDelay.
	Exponential Strategy = "exponential"
)

// Config is the shared retry policy.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero means the default of 3.
	MaxAttempts uint
	// Strategy defaults to Fixed.
	Strategy Strategy
	// Delay is the fixed wait, or the initial wait for Exponential.
	// Zero means the default of 1s.
	Delay time.Duration
	// MaxDelay caps Exponential waits. Zero means the default of 15s.
	MaxDelay time.Duration
	// RetryOn limits retries to errors matching (errors.Is) one of these.
	// Empty retries on any error.
	RetryOn []error
	// LogName labels each retry log line.
	LogName string
	// OnFailure runs after the final failed attempt, before the error is
	// returned or swallowed.
	OnFailure func(error)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Strategy == "" {
		c.Strategy = Fixed
	}
	if c.Delay == 0 {
		c.Delay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.LogName == "" {
		c.LogName = "retry"
	}
	return c
}

// delayForAttempt reports the wait applied after the given 0-based failed
// attempt, for logging.
func (c Config) delayForAttempt(n uint) time.Duration {
	if c.Strategy != Exponential {
		return c.Delay
	}
	d := c.Delay << n
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// Do runs op under the retry policy and returns the last error when all
// attempts fail.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	cfg = cfg.withDefaults()

	err := avast.Do(
		func() error { return op(ctx) },
		avast.Context(ctx),
		avast.Attempts(cfg.MaxAttempts),
		avast.Delay(cfg.Delay),
		avast.MaxDelay(cfg.MaxDelay),
		avast.DelayType(cfg.delayType()),
		avast.LastErrorOnly(true),
		avast.RetryIf(cfg.shouldRetry),
		avast.OnRetry(func(n uint, err error) {
			logger.Warnw("Operation failed, retrying",
				"name", cfg.LogName,
				"attempt", n+1,
				"max_attempts", cfg.MaxAttempts,
				"wait", cfg.delayForAttempt(n).String(),
				"error", err,
			)
		}),
	)
	if err != nil && cfg.OnFailure != nil {
		cfg.OnFailure(err)
	}
	return err
}

func (c Config) delayType() avast.DelayTypeFunc {
	if c.Strategy == Exponential {
		return avast.BackOffDelay
	}
	return avast.FixedDelay
}

func (c Config) shouldRetry(err error) bool {
	if len(c.RetryOn) == 0 {
		return true
	}
	for _, target := range c.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
