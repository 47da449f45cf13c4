package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Total attempts, including the first (<= 0 means one)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor between delays
	AddJitter    bool          // Add up to 25% random delay
}

// DefaultConfig returns the defaults used for bucket operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick returns a config for fast retries during startup and CAS loops
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

func (c Config) normalized() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: delays and multiplier cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// delay returns the backoff before attempt n+1, n >= 1.
func (c Config) delay(n int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < n; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	out := time.Duration(d)
	if c.AddJitter && out >= 4 {
		out += time.Duration(rand.Int64N(int64(out / 4)))
	}
	return out
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// context ends, or MaxAttempts is reached.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
