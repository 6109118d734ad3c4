package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nvprime/nvprime/internal/hardware"
	"github.com/nvprime/nvprime/internal/logfields"
)

// DefaultWatchdogInterval is used when neither the request nor the daemon
// configuration sets a poll interval.
const DefaultWatchdogInterval = 5 * time.Second

// ReleaseFunc is called exactly once per monitor when its process is gone.
type ReleaseFunc func(ctx context.Context, pid int)

// Watchdog runs one liveness monitor per tracked apply call. Monitors share
// nothing with each other; the release callback is responsible for deciding
// whether the process was the last one holding tuning.
type Watchdog struct {
	scheduler *Scheduler
	liveness  hardware.LivenessChecker
	release   ReleaseFunc

	defaultInterval atomic.Int64

	mu       sync.Mutex
	monitors map[uuid.UUID]*monitor

	ctx    context.Context
	cancel context.CancelFunc
}

type monitor struct {
	pid      int
	interval time.Duration
	id       atomic.Value // uuid.UUID, set once the job exists
	once     sync.Once
}

// NewWatchdog creates a watchdog backed by scheduler.
func NewWatchdog(scheduler *Scheduler, liveness hardware.LivenessChecker, release ReleaseFunc, defaultInterval time.Duration) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		scheduler: scheduler,
		liveness:  liveness,
		release:   release,
		monitors:  make(map[uuid.UUID]*monitor),
		ctx:       ctx,
		cancel:    cancel,
	}
	w.SetDefaultInterval(defaultInterval)
	return w
}

// SetDefaultInterval changes the interval used by future Watch calls that pass zero.
func (w *Watchdog) SetDefaultInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultWatchdogInterval
	}
	w.defaultInterval.Store(int64(d))
}

// DefaultInterval returns the interval used when Watch is given zero.
func (w *Watchdog) DefaultInterval() time.Duration {
	return time.Duration(w.defaultInterval.Load())
}

// Watch starts a monitor for pid. Calling Watch twice for the same pid starts two
// independent monitors; the state they release is reference counted by pid, so
// the second release is a no-op.
func (w *Watchdog) Watch(pid int, interval time.Duration) (uuid.UUID, error) {
	if interval <= 0 {
		interval = w.DefaultInterval()
	}
	m := &monitor{pid: pid, interval: interval}

	// The first run is one interval away; check tolerates an unset id anyway.
	id, err := w.scheduler.ScheduleEvery(fmt.Sprintf("watchdog-%d", pid), interval, func() { w.check(m) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("start watchdog for pid %d: %w", pid, err)
	}
	m.id.Store(id)

	w.mu.Lock()
	w.monitors[id] = m
	w.mu.Unlock()

	slog.Info("Watching process", logfields.PID(pid), logfields.Interval(interval))
	return id, nil
}

// Active returns the number of monitors that have not yet observed their
// process exit.
func (w *Watchdog) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.monitors)
}

// Stop cancels the context handed to release callbacks. Scheduled jobs stop
// with the scheduler.
func (w *Watchdog) Stop() {
	w.cancel()
}

func (w *Watchdog) check(m *monitor) {
	if w.ctx.Err() != nil {
		return
	}
	if w.liveness.IsAlive(w.ctx, m.pid) {
		return
	}
	m.once.Do(func() {
		slog.Info("Process exited, releasing tuning", logfields.PID(m.pid))
		w.release(w.ctx, m.pid)

		id, ok := m.id.Load().(uuid.UUID)
		if !ok {
			return
		}
		w.mu.Lock()
		delete(w.monitors, id)
		w.mu.Unlock()
		// RemoveJob round-trips through the scheduler loop; do not block the
		// executor goroutine running this check on it.
		go func() {
			if err := w.scheduler.Remove(id); err != nil {
				slog.Warn("Failed to remove watchdog job", logfields.PID(m.pid), logfields.Error(err))
			}
		}()
	})
}
