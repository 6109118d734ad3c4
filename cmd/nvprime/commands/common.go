// Package commands implements the nvprime command line.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/ipc"
)

// Global is bound into every command.
type Global struct {
	// LevelVar backs the default logger so the daemon can change the level
	// when its configuration is reloaded.
	LevelVar *slog.LevelVar
	// Stdout receives command output.
	Stdout io.Writer
	// Stdin feeds `apply --blob -`.
	Stdin io.Reader
}

// NewGlobal returns a Global wired to the process streams.
func NewGlobal() *Global {
	return &Global{LevelVar: new(slog.LevelVar), Stdout: os.Stdout, Stdin: os.Stdin}
}

// CLI definition & global flags.
type CLI struct {
	Config   string           `short:"c" help:"Configuration file path (default: ~/.config/nvprime/nvprime.yaml, then /etc/nvprime/nvprime.yaml)"`
	Verbose  bool             `short:"v" help:"Enable verbose logging"`
	LogLevel string           `name:"log-level" help:"Log level (debug, info, warn, error); overrides the configuration"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" help:"Run the privileged tuning daemon"`
	Ping    PingCmd    `cmd:"" help:"Check that the daemon answers"`
	Apply   ApplyCmd   `cmd:"" help:"Apply tuning for a running process"`
	Reset   ResetCmd   `cmd:"" help:"Restore baseline tuning and forget all tracked processes"`
	Status  StatusCmd  `cmd:"" help:"Show daemon state"`
	History HistoryCmd `cmd:"" help:"Show recent tuning events from the journal"`
	Run     RunCmd     `cmd:"" help:"Launch a game with its environment and tuning"`
}

// AfterApply runs after flag parsing; set up logging once.
func (c *CLI) AfterApply(g *Global) error {
	g.LevelVar.Set(c.flagLevel(slog.LevelInfo))
	setLogger(g.LevelVar, config.LogFormatText)
	return nil
}

// levelOverridden reports whether the command line fixed the log level.
func (c *CLI) levelOverridden() bool {
	return c.Verbose || strings.TrimSpace(c.LogLevel) != ""
}

func (c *CLI) flagLevel(fallback slog.Level) slog.Level {
	switch {
	case strings.TrimSpace(c.LogLevel) != "":
		return config.NormalizeLogLevel(c.LogLevel).Slog()
	case c.Verbose:
		return slog.LevelDebug
	default:
		return fallback
	}
}

// applyLogging switches the logger to the configured level and format. Flags
// keep precedence over the file.
func (c *CLI) applyLogging(g *Global, cfg config.LoggingConfig) {
	if !c.levelOverridden() {
		g.LevelVar.Set(cfg.Level.Slog())
	}
	setLogger(g.LevelVar, cfg.Format)
}

func setLogger(level *slog.LevelVar, format config.LogFormat) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the resolved configuration file, falling back to defaults
// when it does not exist.
func (c *CLI) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(c.Config)
	if c.Config != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cfg, err := config.LoadOrDefault(path)
	return cfg, path, err
}

// dial connects to the daemon on the configured bus.
func dial(ctx context.Context, cfg *config.Config) (*ipc.Client, error) {
	return ipc.Dial(ctx, ipc.Bus(cfg.Daemon.Bus))
}
