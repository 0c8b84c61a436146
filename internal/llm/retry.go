package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxTries is the total attempt budget, sized so sustained
// throttling at the 60s backoff cap survives well over an hour.
const DefaultMaxTries = 100

// RetryConfig controls Call. The zero value uses DefaultMaxTries and real
// sleeps; tests inject a recording Sleep.
type RetryConfig struct {
	MaxTries int
	Sleep    func(time.Duration)
	Logger   *slog.Logger
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxTries <= 0 {
		c.MaxTries = DefaultMaxTries
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Call executes fn, retrying transient API failures with capped exponential
// backoff (server Retry-After wins when present). Terminal errors return
// immediately; an exhausted budget returns ErrExceededMaxRetries wrapping
// the final cause.
//
// The backoff sleep itself is not interruptible; ctx is checked between
// attempts. Callers needing hard cancellation run Call under their own
// goroutine.
func Call[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var err error
	for attempt := 0; attempt < cfg.MaxTries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		var out T
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
		delay, retriable := retryDelay(err, attempt)
		if !retriable {
			return zero, err
		}
		if attempt+1 >= cfg.MaxTries {
			break
		}
		cfg.Logger.Warn("llm: retrying after transient failure",
			"attempt", attempt+1, "delay", delay, "error", err)
		cfg.Sleep(delay)
	}
	return zero, fmt.Errorf("%w: %w", ErrExceededMaxRetries, err)
}
