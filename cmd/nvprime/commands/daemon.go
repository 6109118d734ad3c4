package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/nvprime/nvprime/internal/daemon"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/privilege"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	NoElevate bool `name:"no-elevate" help:"Do not re-execute through pkexec when not running as root"`
	NoWatch   bool `name:"no-watch" help:"Do not reload the configuration file when it changes"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	if !d.NoElevate {
		privilege.TryElevate()
	}

	cfg, path, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.applyLogging(g, cfg.Logging)
	slog.Info("Loaded configuration", logfields.Path(path))

	watchPath := path
	if d.NoWatch {
		watchPath = ""
	}
	dmn, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: watchPath,
		LevelVar:   g.LevelVar,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return dmn.Run(ctx)
}
