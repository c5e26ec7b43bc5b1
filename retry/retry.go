// Package retry implements the backoff policy used for transient control
// endpoint failures: exponential growth, a hard cap, and random jitter to
// avoid synchronized retry storms across many callers.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/projecteru2/pupa/errdefs"
)

// Config is an immutable retry policy. Construct via NewConfig; the zero
// value is not valid.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the pre-jitter delay after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps the pre-jitter delay.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay geometrically per attempt.
	BackoffMultiplier float64
	// JitterFactor in [0,1] perturbs each delay by up to ±JitterFactor/2.
	JitterFactor float64
}

// DefaultConfig is the policy applied to control endpoint calls when the
// engine configuration does not override it.
var DefaultConfig = Config{
	MaxAttempts:       3,
	InitialDelay:      100 * time.Millisecond,
	MaxDelay:          5 * time.Second,
	BackoffMultiplier: 2.0,
	JitterFactor:      0.1,
}

// NewConfig validates and returns a retry policy.
func NewConfig(maxAttempts int, initialDelay, maxDelay time.Duration, backoffMultiplier, jitterFactor float64) (Config, error) {
	cfg := Config{
		MaxAttempts:       maxAttempts,
		InitialDelay:      initialDelay,
		MaxDelay:          maxDelay,
		BackoffMultiplier: backoffMultiplier,
		JitterFactor:      jitterFactor,
	}
	return cfg, cfg.Validate()
}

// Validate checks the policy invariants.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errdefs.InvalidRange("max_attempts", "must be >= 1")
	case c.InitialDelay <= 0:
		return errdefs.InvalidRange("initial_delay", "must be > 0")
	case c.MaxDelay < c.InitialDelay:
		return errdefs.InvalidRange("max_delay", "must be >= initial_delay")
	case c.BackoffMultiplier < 1.0:
		return errdefs.InvalidRange("backoff_multiplier", "must be >= 1.0")
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return errdefs.InvalidRange("jitter_factor", "must be in [0,1]")
	}
	return nil
}

// ShouldRetry decides whether the attempt-th try (1-based) may be followed
// by another. False once the attempt budget is spent, regardless of the
// error; otherwise only transport timeouts, connection failures, and 5xx
// responses are retried.
func ShouldRetry(err error, attempt int, cfg Config) bool {
	if attempt >= cfg.MaxAttempts {
		return false
	}
	return errdefs.IsRetryable(err)
}

// Delay computes the sleep before attempt+1 given that attempt (1-based)
// just failed: exponential base capped at MaxDelay, perturbed by jitter.
// The jittered value can go negative for large jitter factors and a low
// random draw, so the result is clamped to zero.
func Delay(attempt int, cfg Config) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	capped := math.Min(base, float64(cfg.MaxDelay))
	jitter := capped * cfg.JitterFactor * (rand.Float64() - 0.5) //nolint:gosec // jitter, not crypto
	d := time.Duration(capped + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn up to cfg.MaxAttempts times, sleeping per the policy between
// attempts. The sleep is cooperative and cancellable: if ctx fires mid-wait
// the last observed error is returned immediately so an overall caller
// deadline is honored across attempts. On exhaustion the last error is
// returned, never a synthetic "retries exhausted".
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !ShouldRetry(lastErr, attempt, cfg) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(Delay(attempt, cfg)):
		}
	}
	return lastErr
}
