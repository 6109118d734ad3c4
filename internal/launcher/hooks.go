package launcher

import (
	"context"
	"log/slog"
	"os"
	"os/exec"

	"github.com/nvprime/nvprime/internal/logfields"
)

// RunHook runs command through sh -c with the game environment. A failing
// hook is logged and never stops the launch. An empty command does nothing.
func RunHook(ctx context.Context, name, command string, environ []string) {
	if command == "" {
		slog.Debug("No hook configured", slog.String("hook", name))
		return
	}

	slog.Info("Running hook", slog.String("hook", name))
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = environ
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("Hook failed", slog.String("hook", name), logfields.Error(err))
		return
	}
	slog.Info("Hook completed", slog.String("hook", name))
}
