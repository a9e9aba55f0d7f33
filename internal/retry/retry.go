// Package retry runs blocking operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Config controls the retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BackoffBase is the wait before the second attempt.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait on each further attempt.
	BackoffMultiplier float64

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration

	// Retryable decides whether an error is worth another attempt.
	// nil retries everything except context cancellation.
	Retryable func(error) bool
}

// Default returns 3 attempts with a 2s base, x2 multiplier and a 30s cap.
func Default() Config {
	return Config{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// WithAttempts returns a copy of c with MaxAttempts set.
func (c Config) WithAttempts(n int) Config {
	if n > 0 {
		c.MaxAttempts = n
	}
	return c
}

// WithRetryable returns a copy of c with the retry predicate set.
func (c Config) WithRetryable(fn func(error) bool) Config {
	c.Retryable = fn
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or attempts run out. The last error is returned unchanged.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, op string, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := cfg.backoff(attempt)
		logger.Debug("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
	}

	logger.Warn("operation failed after retries", "op", op, "attempts", attempts, "error", lastErr)
	return lastErr
}

func (c Config) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

// backoff computes the wait after the given attempt with +/-25% jitter.
func (c Config) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.BackoffBase) * multiplier)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
