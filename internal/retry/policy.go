// Package retry computes backoff delays and retries operations that can fail
// transiently, such as connecting to the message bus during boot.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/logfields"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
}

// DefaultPolicy returns the bus connection default (exponential, 500ms initial, 5s cap, 5 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 500 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 5}
}

// FromConfig builds a policy from configuration; zero or invalid values fall back to defaults.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	if c.Initial > 0 {
		p.Initial = c.Initial
	}
	if c.Max > 0 {
		p.Max = c.Max
	}
	switch c.Backoff {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = c.Backoff
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Do calls fn until it succeeds, the retries are used up or ctx is done. It
// returns the last error from fn, or ctx's error when canceled while waiting.
func (p Policy) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt + 1)
		slog.Warn("Operation failed, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			logfields.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
