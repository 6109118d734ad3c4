package main

import (
	stderrors "errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/nvprime/nvprime/cmd/nvprime/commands"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/version"
)

func main() {
	g := commands.NewGlobal()
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("nvprime"),
		kong.Description("GPU, CPU and process tuning for games on NVIDIA PRIME laptops"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(g),
	)

	err := ctx.Run(g, cli)
	if err == nil {
		return
	}
	var exit *commands.ExitError
	if stderrors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
