package errors

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("bad flag").Build(), 2},
		{"privilege", PrivilegeError("pkexec missing").Build(), 5},
		{"transport", TransportError("daemon not running").Build(), 6},
		{"config", ConfigError("malformed tuning config").Build(), 7},
		{"hardware", HardwareError("GPU not initialized").Build(), 8},
		{"restore", RestoreError("failed to fully reset tuning").Build(), 9},
		{"internal", InternalError("boom").Build(), 10},
		{"daemon", DaemonError("bus name taken").Build(), 12},
		{"unclassified", errors.New("unknown"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)
	verbose := NewCLIErrorAdapter(true, nil)

	cfgErr := ConfigError("malformed tuning config").WithCause(errors.New("unexpected EOF")).Build()
	assert.Equal(t, "Error: malformed tuning config: unexpected EOF", quiet.FormatError(cfgErr))
	assert.Equal(t, "[config] malformed tuning config: unexpected EOF", verbose.FormatError(cfgErr))

	internal := InternalError("nil state").Build()
	assert.Equal(t, "Internal error occurred (use -v for details)", quiet.FormatError(internal))

	assert.Equal(t, "Error: plain", quiet.FormatError(errors.New("plain")))
	assert.Empty(t, quiet.FormatError(nil))
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var out, logs bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logs, nil)))
	adapter.out = &out
	code := -1
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(RestoreError("failed to fully reset tuning").Build())

	assert.Equal(t, 9, code)
	assert.Equal(t, "Error: failed to fully reset tuning\n", out.String())
	assert.Empty(t, logs.String(), "non-fatal errors are not logged in quiet mode")

	adapter.HandleError(nil)
	assert.Equal(t, 9, code)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, LevelFor(SeverityWarning))
	assert.Equal(t, slog.LevelInfo, LevelFor(SeverityInfo))
	assert.Equal(t, slog.LevelError, LevelFor(SeverityFatal))
	assert.Equal(t, slog.LevelError, LevelFor(SeverityError))
}
