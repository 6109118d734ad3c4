package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/tuning"
)

const callTimeout = 10 * time.Second

// PingCmd implements the 'ping' command.
type PingCmd struct{}

func (p *PingCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	client, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	reply, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.Stdout, reply)
	return nil
}

// ApplyCmd implements the 'apply' command.
type ApplyCmd struct {
	PID  int    `name:"pid" required:"" help:"Process to tune and watch"`
	Blob string `help:"File holding a JSON tuning blob, or - for stdin (default: the configuration's tuning section)"`
}

func (a *ApplyCmd) Run(g *Global, root *CLI) error {
	if a.PID <= 0 {
		return errors.ValidationError("--pid must be positive").WithContext("pid", a.PID).Build()
	}
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}

	blob := ""
	if a.Blob != "" {
		if blob, err = readBlob(a.Blob, g.Stdin); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if blob != "" {
		return client.ApplyRaw(ctx, tuning.ProtocolVersion, uint32(a.PID), blob)
	}
	return client.Apply(ctx, a.PID, cfg.Tuning)
}

func readBlob(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.ValidationError("failed to read tuning blob").WithCause(err).WithContext("path", path).Build()
	}
	return strings.TrimSpace(string(data)), nil
}

// ResetCmd implements the 'reset' command.
type ResetCmd struct{}

func (r *ResetCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	client, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Reset(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.Stdout, "tuning reset")
	return nil
}

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON bool `name:"json" help:"Print the raw JSON status"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	client, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	writeStatus(g.Stdout, st)
	return nil
}

func writeStatus(w io.Writer, st tuning.Status) {
	state := "idle"
	if st.Active {
		state = "active"
	}
	_, _ = fmt.Fprintf(w, "state:      %s\n", state)
	_, _ = fmt.Fprintf(w, "version:    %s\n", st.Version)
	if len(st.PIDs) > 0 {
		pids := make([]string, len(st.PIDs))
		for i, pid := range st.PIDs {
			pids[i] = fmt.Sprint(pid)
		}
		_, _ = fmt.Fprintf(w, "pids:       %s\n", strings.Join(pids, ", "))
	}
	_, _ = fmt.Fprintf(w, "watchdogs:  %d\n", st.Watchdogs)
	if st.GPU != "" {
		_, _ = fmt.Fprintf(w, "gpu:        %s\n", st.GPU)
	}
	if st.BaselinePowerLimitMW != nil {
		_, _ = fmt.Fprintf(w, "baseline:   %d mW\n", *st.BaselinePowerLimitMW)
	}
	if st.BaselineEPP != "" {
		_, _ = fmt.Fprintf(w, "base epp:   %s\n", st.BaselineEPP)
	}
	if len(st.PendingRestore) > 0 {
		_, _ = fmt.Fprintf(w, "pending:    %s\n", strings.Join(st.PendingRestore, ", "))
	}
	if !st.LastApplied.IsZero() {
		_, _ = fmt.Fprintf(w, "applied at: %s\n", st.LastApplied.Format(time.RFC3339))
	}
}

func requestTuning(ctx context.Context, cfg *config.Config, pid int) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	client, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Apply(ctx, pid, cfg.Tuning)
}
