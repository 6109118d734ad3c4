package daemon

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvprime/nvprime/internal/events"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/hardware"
	"github.com/nvprime/nvprime/internal/ipc"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/metrics"
	"github.com/nvprime/nvprime/internal/tuning"
)

const softFailureEPP = "cpu_epp"

// Controller serves the RPC methods on top of State. It starts a watchdog
// monitor for every applied pid and reports metrics and events once the state
// lock has been released.
type Controller struct {
	state    *State
	watchdog *Watchdog
	recorder metrics.Recorder
	events   events.Emitter

	// watch starts a monitor; tests replace it to simulate scheduler failures.
	watch func(pid int, interval time.Duration) (uuid.UUID, error)
}

var (
	_ ipc.Backend        = (*Controller)(nil)
	_ ipc.RejectObserver = (*Controller)(nil)
)

// NewController wires state to a watchdog on scheduler. A nil recorder or
// emitter disables that output.
func NewController(state *State, scheduler *Scheduler, liveness hardware.LivenessChecker, defaultInterval time.Duration, recorder metrics.Recorder, emitter events.Emitter) *Controller {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	c := &Controller{state: state, recorder: recorder, events: emitter}
	c.watchdog = NewWatchdog(scheduler, liveness, c.release, defaultInterval)
	c.watch = c.watchdog.Watch
	return c
}

// Watchdog returns the controller's watchdog.
func (c *Controller) Watchdog() *Watchdog { return c.watchdog }

// Apply applies req and watches req.PID until it exits.
func (c *Controller) Apply(_ context.Context, req tuning.Request) error {
	start := time.Now()
	out, err := c.state.ApplyTuning(req)
	c.recorder.ObserveApplyDuration(time.Since(start))

	if err != nil {
		slog.Error("Failed to apply tuning", logfields.RequestID(req.ID), logfields.PID(req.PID), logfields.Error(err))
		c.recorder.IncApply(metrics.ResultFailed)
		c.events.Emit(events.New(events.TypeApplyFailed, req.PID, req.ID).With("error", errorDetail(err)))
		if rb := out.RolledBack; rb != nil {
			c.recordRestore(metrics.TriggerRollback, req.PID, req.ID, *rb)
		}
		return err
	}

	if out.Activated {
		c.events.Emit(events.New(events.TypeActivated, req.PID, req.ID))
	}
	applied := events.New(events.TypeApplied, req.PID, req.ID)
	if out.PowerLimitMW != 0 {
		applied = applied.With("power_limit_mw", strconv.FormatUint(uint64(out.PowerLimitMW), 10))
	}
	if req.CPU.Enabled {
		applied = applied.
			With("epp_profile", req.CPU.EPPTune.String()).
			With("epp_cores_applied", strconv.Itoa(out.EPP.Applied)).
			With("epp_cores_failed", strconv.Itoa(out.EPP.Failed))
	}
	result := metrics.ResultSuccess
	if out.EPPErr != nil {
		result = metrics.ResultPartial
		c.recorder.IncSoftFailure(softFailureEPP)
		applied = applied.With("epp_error", errorDetail(out.EPPErr))
	}
	c.recorder.IncApply(result)
	c.recorder.SetActivePIDs(out.ActivePIDs)
	c.events.Emit(applied)

	interval := req.Sys.WatchdogInterval(c.watchdog.DefaultInterval())
	if _, err := c.watch(req.PID, interval); err != nil {
		// A pid this call added has no monitor to release it. A pid that was
		// already tracked keeps the monitor its earlier apply started.
		if out.Added {
			slog.Error("Failed to start watchdog, releasing pid", logfields.PID(req.PID), logfields.Error(err))
			c.release(context.Background(), req.PID)
		} else {
			slog.Error("Failed to start watchdog, pid stays on its earlier monitor", logfields.PID(req.PID), logfields.Error(err))
		}
		return errors.InternalError("failed to start process watchdog").
			WithCause(err).
			WithContext("pid", req.PID).
			Build()
	}
	c.recorder.IncWatchdogStarted()

	slog.Info("Tuning applied",
		logfields.RequestID(req.ID),
		logfields.PID(req.PID),
		logfields.ActivePIDs(out.ActivePIDs),
		logfields.Interval(interval))
	return nil
}

// Reset restores every baseline and forgets all tracked pids. Running
// monitors keep polling and find their pid already gone from the state.
func (c *Controller) Reset(_ context.Context, requestID string) error {
	res, err := c.state.ResetTuning()
	c.recorder.SetActivePIDs(0)
	if !res.Performed {
		slog.Debug("Reset requested while idle", logfields.RequestID(requestID))
		return nil
	}

	c.events.Emit(events.New(events.TypeReset, 0, requestID))
	c.recordRestore(metrics.TriggerReset, 0, requestID, res)
	if err != nil {
		slog.Error("Reset incomplete", logfields.RequestID(requestID), logfields.FailedSteps(res.FailedSteps))
		return err
	}
	slog.Info("Tuning reset", logfields.RequestID(requestID))
	return nil
}

// Status reports the state and the number of live monitors.
func (c *Controller) Status() tuning.Status {
	st := c.state.Snapshot()
	st.Watchdogs = c.watchdog.Active()
	return st
}

// Rejected counts calls refused before reaching the state.
func (c *Controller) Rejected(method string, pid int, err error) {
	if method != "ApplyTuning" {
		return
	}
	c.recorder.IncApply(metrics.ResultRejected)
	c.events.Emit(events.New(events.TypeApplyFailed, pid, "").With("error", errorDetail(err)))
}

// Shutdown performs the final restore pass and stops the watchdog.
func (c *Controller) Shutdown() error {
	c.watchdog.Stop()
	res, err := c.state.Shutdown()
	if res.Performed {
		c.recordRestore(metrics.TriggerShutdown, 0, "", res)
	}
	c.recorder.SetActivePIDs(0)
	return err
}

// release is the watchdog callback for a process that exited.
func (c *Controller) release(_ context.Context, pid int) {
	out := c.state.RemovePIDAndMaybeRestore(pid)
	c.recorder.SetActivePIDs(out.Restore.ActivePIDs)
	if !out.Removed {
		slog.Debug("Exited process was no longer tracked", logfields.PID(pid))
		return
	}

	released := events.New(events.TypeReleased, pid, "")
	released.Trigger = string(metrics.TriggerWatchdog)
	c.events.Emit(released)
	if out.Restore.Performed {
		c.recordRestore(metrics.TriggerWatchdog, pid, "", out.Restore)
	}
	if out.Err != nil {
		slog.Error("Restore after process exit incomplete", logfields.PID(pid), logfields.Error(out.Err))
	}
}

func (c *Controller) recordRestore(trigger metrics.Trigger, pid int, requestID string, res RestoreOutcome) {
	typ := events.TypeRestored
	result := metrics.ResultSuccess
	if len(res.FailedSteps) > 0 {
		typ = events.TypeRestoreFailed
		result = metrics.ResultPartial
	}
	c.recorder.IncRestore(trigger, result)

	e := events.New(typ, pid, requestID)
	e.Trigger = string(trigger)
	if len(res.FailedSteps) > 0 {
		e = e.With("failed_steps", strings.Join(res.FailedSteps, ","))
	}
	c.events.Emit(e)
}

func errorDetail(err error) string {
	if c, ok := errors.AsClassified(err); ok {
		return c.Detail()
	}
	return err.Error()
}
