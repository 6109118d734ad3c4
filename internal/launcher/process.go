package launcher

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
)

// Launcher runs one game session.
type Launcher struct {
	Game    Game
	argv    []string
	environ []string
	hooks   config.HooksConfig

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	cmd *exec.Cmd
}

// New prepares a launch of argv. The whole argv is executed; detection only
// picks the per-game configuration.
func New(argv []string, cfg config.LauncherConfig) (*Launcher, error) {
	if len(argv) == 0 {
		return nil, errors.ValidationError("no command to run").Build()
	}
	game := DetectGame(argv)
	slog.Debug("Detected game",
		slog.String("game", game.Name),
		slog.Uint64("app_id", uint64(game.AppID)),
		slog.Any("args", game.Args))

	return &Launcher{
		Game:    game,
		argv:    argv,
		environ: Environ(os.Environ(), BuildEnv(cfg, game.Name)),
		hooks:   cfg.Hooks,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// Environ returns the environment the game is started with.
func (l *Launcher) Environ() []string { return l.environ }

// Start runs the init hook and starts the game. It returns the child pid.
func (l *Launcher) Start(ctx context.Context) (int, error) {
	RunHook(ctx, "init", l.hooks.Init, l.environ)

	cmd := exec.Command(l.argv[0], l.argv[1:]...)
	cmd.Env = l.environ
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return 0, errors.ValidationError("failed to start process").
			WithCause(err).
			WithContext("command", l.argv[0]).
			Build()
	}
	l.cmd = cmd
	slog.Info("Started process", slog.String("game", l.Game.Name), logfields.PID(cmd.Process.Pid))
	return cmd.Process.Pid, nil
}

// Wait waits for the game, runs the shutdown hook and returns the exit code.
// A process killed by a signal reports -1.
func (l *Launcher) Wait(ctx context.Context) (int, error) {
	if l.cmd == nil {
		return -1, errors.InternalError("process not started").Build()
	}
	err := l.cmd.Wait()
	code := l.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if err != nil && !stderrors.As(err, &exitErr) {
		RunHook(ctx, "shutdown", l.hooks.Shutdown, l.environ)
		return -1, errors.InternalError("failed waiting for process").WithCause(err).Build()
	}

	if code == 0 {
		slog.Info("Process exited", logfields.PID(l.cmd.Process.Pid), slog.Int("exit_code", code))
	} else {
		slog.Warn("Process exited with failure", logfields.PID(l.cmd.Process.Pid), slog.Int("exit_code", code))
	}
	RunHook(ctx, "shutdown", l.hooks.Shutdown, l.environ)
	return code, nil
}
