package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvprime/nvprime/internal/launcher"
	"github.com/nvprime/nvprime/internal/logfields"
)

// ExitError carries the exit status of a launched game back to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("process exited with status %d", e.Code) }

// RunCmd implements the 'run' command, typically used as a Steam launch
// option: `nvprime run -- %command%`.
type RunCmd struct {
	NoTune  bool     `name:"no-tune" help:"Only set up the environment, do not contact the daemon"`
	Command []string `arg:"" passthrough:"" help:"Command to run"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.applyLogging(g, cfg.Logging)

	l, err := launcher.New(r.Command, cfg.Launcher)
	if err != nil {
		return err
	}

	// The game receives terminal signals itself; keep nvprime alive to run
	// the shutdown hook.
	signal.Ignore(os.Interrupt, syscall.SIGTERM)

	ctx := context.Background()
	pid, err := l.Start(ctx)
	if err != nil {
		return err
	}

	if !r.NoTune && cfg.Tuning.Any() {
		if err := requestTuning(ctx, cfg, pid); err != nil {
			slog.Warn("Tuning unavailable, running without it", logfields.PID(pid), logfields.Error(err))
		}
	}

	code, err := l.Wait(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
