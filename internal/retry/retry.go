// Package retry runs transient-failure-prone operations (embedding calls,
// index store writes) with capped exponential backoff tied to the caller's
// context. Only errors classified as transient by [rag.IsTransient] are
// retried; everything else is returned after the first attempt.
package retry

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// Config configures the retry policy.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Defaults to 3 if zero.
	MaxAttempts int
	// InitialInterval is the delay before the second attempt. Defaults to 500ms.
	InitialInterval time.Duration
	// Multiplier grows the delay after each failure. Defaults to 2.
	Multiplier float64
	// MaxInterval caps a single delay. Defaults to 10s.
	MaxInterval time.Duration
}

// Default returns the standard policy: 3 attempts, 500ms base, doubling.
func Default() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
}

func (c Config) normalised() Config {
	d := Default()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	return c
}

// Do calls fn until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done. op names the operation in log output.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	cfg = cfg.normalised()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.Multiplier = cfg.Multiplier
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), //nolint:gosec // bounded by config
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !rag.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("retrying after transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// FromEnv returns Default overridden by RETRY_MAX_ATTEMPTS (int) and
// RETRY_BASE_DELAY (Go duration). Unparseable values are ignored.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.InitialInterval = d
		}
	}
	return cfg
}
