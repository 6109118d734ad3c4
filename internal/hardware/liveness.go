package hardware

import (
	"context"
	"log/slog"
	"slices"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nvprime/nvprime/internal/logfields"
)

// ProcessLiveness checks liveness through gopsutil. A zombie counts as dead: it
// has exited and only waits for its parent to reap it.
type ProcessLiveness struct{}

func (ProcessLiveness) IsAlive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		// Unknown is treated as alive; the next tick asks again.
		slog.Debug("Liveness check failed", logfields.PID(pid), logfields.Error(err))
		return true
	}
	if !exists {
		return false
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return !slices.Contains(status, process.Zombie)
}
