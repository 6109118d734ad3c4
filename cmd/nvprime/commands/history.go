package commands

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nvprime/nvprime/internal/events"
)

// HistoryCmd implements the 'history' command. It reads the journal directly
// and needs read access to the database file.
type HistoryCmd struct {
	Limit   int    `short:"n" default:"20" help:"Number of events to show"`
	PID     int    `name:"pid" help:"Show every event for one process instead"`
	Journal string `help:"Journal database (default: daemon.journal.path from the configuration)"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	path := h.Journal
	if path == "" {
		cfg, _, err := root.loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Daemon.Journal.Path
	}

	journal, err := events.OpenJournal(path)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	ctx := context.Background()
	var list []events.Event
	if h.PID > 0 {
		list, err = journal.ByPID(ctx, h.PID)
	} else {
		list, err = journal.Recent(ctx, h.Limit)
	}
	if err != nil {
		return err
	}
	writeEvents(g.Stdout, list)
	return nil
}

func writeEvents(w io.Writer, list []events.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tPID\tTRIGGER\tDETAILS")
	for _, e := range list {
		pid := "-"
		if e.PID > 0 {
			pid = fmt.Sprint(e.PID)
		}
		trigger := e.Trigger
		if trigger == "" {
			trigger = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Type, pid, trigger, details(e.Metadata))
	}
	_ = tw.Flush()
}

func details(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	parts := make([]string, 0, len(meta))
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " ")
}
