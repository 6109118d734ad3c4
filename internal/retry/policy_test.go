package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvprime/nvprime/internal/config"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 5*time.Second, p.Max)
	assert.Equal(t, 5, p.MaxRetries)
	require.NoError(t, p.Validate())
}

// TestFromConfigOverrides checks override precedence and clamping when initial > max.
func TestFromConfigOverrides(t *testing.T) {
	p := FromConfig(config.RetryConfig{Backoff: config.RetryBackoffFixed, Initial: 5 * time.Second, Max: 2 * time.Second, MaxRetries: 3})
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, 2*time.Second, p.Max)
	assert.Equal(t, config.RetryBackoffFixed, p.Mode)
	assert.Equal(t, 3, p.MaxRetries)

	p = FromConfig(config.RetryConfig{Backoff: "weird", MaxRetries: -1})
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelayModes(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"fixed", Policy{Mode: config.RetryBackoffFixed, Initial: 100 * time.Millisecond, Max: time.Second}, 3, 100 * time.Millisecond},
		{"linear", Policy{Mode: config.RetryBackoffLinear, Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond}, 2, 200 * time.Millisecond},
		{"linear capped", Policy{Mode: config.RetryBackoffLinear, Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond}, 3, 250 * time.Millisecond},
		{"exponential", Policy{Mode: config.RetryBackoffExponential, Initial: 50 * time.Millisecond, Max: 160 * time.Millisecond}, 2, 100 * time.Millisecond},
		{"exponential capped", Policy{Mode: config.RetryBackoffExponential, Initial: 50 * time.Millisecond, Max: 160 * time.Millisecond}, 3, 160 * time.Millisecond},
		{"exponential large attempt", Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 5 * time.Second}, 64, 5 * time.Second},
		{"attempt zero", Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: time.Second}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: 0}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
}

func TestDo(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 3}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with last error", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return errors.New("down")
		})
		require.EqualError(t, err, "down")
		assert.Equal(t, 4, calls)
	})

	t.Run("stops when canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{Mode: config.RetryBackoffFixed, Initial: time.Hour, Max: time.Hour, MaxRetries: 3}
		err := slow.Do(ctx, "test", func(context.Context) error {
			cancel()
			return errors.New("down")
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
