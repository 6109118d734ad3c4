package daemon

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/hardware"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/tuning"
)

// Restore steps, as reported in failed_steps.
const (
	StepGPU = "gpu"
	StepCPU = "cpu"
)

// State is the tuning lifecycle shared by RPC handlers and watchdog monitors.
//
// Tuning is active exactly while activePIDs is non-empty. Every field is read
// and written under mu, and mu is held across the adapter calls an operation
// makes so that the "last process gone, restore" decision cannot interleave
// with a concurrent apply.
type State struct {
	mu sync.Mutex

	gpu  hardware.GPUDevice
	epp  hardware.EPPWriter
	prio hardware.PriorityAdjuster
	now  func() time.Time

	activePIDs map[int]struct{}

	baselinePowerLimit *uint32
	baselineEPP        *tuning.EPPProfile

	// Adapters invoked during the current activation cycle, plus steps whose
	// last restore failed. Only these are restored.
	gpuDirty bool
	cpuDirty bool

	lastApplied time.Time

	// closed is set by Shutdown; later applies are refused.
	closed bool
}

// ApplyOutcome describes a successful ApplyTuning call.
type ApplyOutcome struct {
	Activated bool
	// Added is set when this call started tracking the pid.
	Added        bool
	PowerLimitMW uint32
	EPP          hardware.EPPReport
	// EPPErr is the soft CPU failure, if any. It never fails the call.
	EPPErr     error
	ActivePIDs int
	// RolledBack is set when a failed call restored what it had touched.
	RolledBack *RestoreOutcome
}

// RestoreOutcome describes one restore pass.
type RestoreOutcome struct {
	Performed   bool
	FailedSteps []string
	ActivePIDs  int
}

// RemoveOutcome describes a RemovePIDAndMaybeRestore call.
type RemoveOutcome struct {
	Removed bool
	Restore RestoreOutcome
	Err     error
}

// NewState creates an idle state without a GPU. Call InitGPU to attach one.
func NewState(epp hardware.EPPWriter, prio hardware.PriorityAdjuster) *State {
	return &State{
		epp:        epp,
		prio:       prio,
		now:        time.Now,
		activePIDs: make(map[int]struct{}),
	}
}

// InitGPU opens the GPU and records its default power limit as the baseline.
// The daemon keeps running without GPU tuning when this fails.
func (s *State) InitGPU(opener hardware.GPUOpener, uuid string) error {
	dev, err := opener.Open(uuid)
	if err != nil {
		return err
	}
	limit, err := dev.DefaultPowerLimit()
	if err != nil {
		_ = dev.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gpu != nil {
		_ = s.gpu.Close()
	}
	s.gpu = dev
	s.baselinePowerLimit = &limit
	slog.Info("GPU ready", logfields.GPU(dev.Name()), logfields.PowerLimitMW(limit))
	return nil
}

// HasGPU reports whether a GPU is attached.
func (s *State) HasGPU() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpu != nil
}

// ApplyTuning applies req and starts tracking req.PID.
//
// A GPU or priority failure fails the call and leaves the pid untracked. When
// no other process holds tuning, the adapters this call touched are restored
// before returning. A CPU EPP failure is reported in the outcome only.
func (s *State) ApplyTuning(req tuning.Request) (ApplyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ApplyOutcome{ActivePIDs: len(s.activePIDs)}, errors.DaemonError("daemon is shutting down").
			WithContext("pid", req.PID).
			Build()
	}

	var out ApplyOutcome
	out.Activated = len(s.activePIDs) == 0
	if out.Activated {
		slog.Info("Activating tuning", logfields.RequestID(req.ID), logfields.PID(req.PID))
	}

	var touchedGPU, touchedCPU bool
	fail := func(err error) (ApplyOutcome, error) {
		failed := ApplyOutcome{ActivePIDs: len(s.activePIDs)}
		if len(s.activePIDs) == 0 && (touchedGPU || touchedCPU) {
			res := s.restoreLocked(touchedGPU, touchedCPU)
			if len(res.FailedSteps) > 0 {
				slog.Error("Rollback after failed apply incomplete",
					logfields.RequestID(req.ID),
					logfields.FailedSteps(res.FailedSteps))
			}
			failed.RolledBack = &res
		}
		return failed, err
	}

	if req.GPU.Enabled {
		if s.gpu == nil {
			return fail(errors.HardwareError("GPU not initialized").Build())
		}
		if req.GPU.DeviceUUID != nil && *req.GPU.DeviceUUID != "" && *req.GPU.DeviceUUID != s.gpu.UUID() {
			slog.Warn("Requested GPU differs from the daemon's GPU; tuning the daemon's GPU",
				logfields.RequestID(req.ID),
				slog.String("requested_uuid", *req.GPU.DeviceUUID),
				logfields.GPU(s.gpu.Name()))
		}
		if target, ok := req.GPU.Target(); ok {
			if s.baselinePowerLimit == nil {
				limit, err := s.gpu.DefaultPowerLimit()
				if err != nil {
					return fail(asHardware(err, "failed to read GPU baseline power limit"))
				}
				s.baselinePowerLimit = &limit
			}
			touchedGPU = true
			s.gpuDirty = true
			applied, err := s.gpu.ApplyPowerTarget(target)
			if err != nil {
				return fail(asHardware(err, "failed to set GPU power limit"))
			}
			out.PowerLimitMW = applied
		}
	}

	if req.CPU.Enabled {
		report, err := s.epp.SetEPP(req.CPU.EPPTune)
		out.EPP = report
		switch {
		case err != nil:
			out.EPPErr = err
			slog.Warn("CPU EPP tuning failed, continuing",
				logfields.RequestID(req.ID),
				logfields.EPPProfile(req.CPU.EPPTune.String()),
				logfields.Error(err))
		case report.Applied == 0:
			out.EPPErr = errors.AdapterError("EPP profile not applied to any core").
				WithContext("failed", report.Failed).
				Build()
			slog.Warn("CPU EPP tuning reached no core, continuing",
				logfields.RequestID(req.ID),
				logfields.EPPProfile(req.CPU.EPPTune.String()))
		}
		// Only a profile that reached at least one core needs restoring.
		if report.Applied > 0 {
			if s.baselineEPP == nil {
				base := req.CPU.Baseline()
				s.baselineEPP = &base
			}
			touchedCPU = true
			s.cpuDirty = true
		}
	}

	if req.Sys.Enabled {
		if req.Sys.Renice != 0 {
			if err := s.prio.SetPriority(req.PID, req.Sys.Renice); err != nil {
				return fail(asHardware(err, "failed to set process priority"))
			}
			slog.Info("Set process priority", logfields.PID(req.PID), slog.Int("nice", req.Sys.Renice))
		}
		if req.Sys.IOPriority != nil {
			if err := s.prio.SetIOPriority(req.PID, *req.Sys.IOPriority); err != nil {
				return fail(asHardware(err, "failed to set process I/O priority"))
			}
			slog.Info("Set process I/O priority", logfields.PID(req.PID), slog.Int("level", *req.Sys.IOPriority))
		}
	}

	_, tracked := s.activePIDs[req.PID]
	out.Added = !tracked
	s.activePIDs[req.PID] = struct{}{}
	s.lastApplied = s.now()
	out.ActivePIDs = len(s.activePIDs)
	return out, nil
}

// ResetTuning restores baselines and forgets every tracked pid. With nothing
// tracked it does nothing. Tracking is cleared even when a restore step fails.
func (s *State) ResetTuning() (RestoreOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.activePIDs) == 0 {
		return RestoreOutcome{}, nil
	}
	res := s.restoreLocked(s.gpuDirty, s.cpuDirty)
	clear(s.activePIDs)
	return res, restoreErr("Failed to fully reset tuning", res)
}

// RemovePIDAndMaybeRestore stops tracking pid and, when it was the last one,
// restores baselines in the same critical section. Restore failures are
// returned in the outcome for logging; nobody is waiting on them.
func (s *State) RemovePIDAndMaybeRestore(pid int) RemoveOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activePIDs[pid]; !ok {
		return RemoveOutcome{Restore: RestoreOutcome{ActivePIDs: len(s.activePIDs)}}
	}
	delete(s.activePIDs, pid)
	out := RemoveOutcome{Removed: true, Restore: RestoreOutcome{ActivePIDs: len(s.activePIDs)}}
	if len(s.activePIDs) > 0 {
		return out
	}

	out.Restore = s.restoreLocked(s.gpuDirty, s.cpuDirty)
	out.Err = restoreErr("Failed to restore tuning after process exit", out.Restore)
	return out
}

// Shutdown restores baselines if tuning is active and refuses every later
// apply. Used once on termination.
func (s *State) Shutdown() (RestoreOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	if len(s.activePIDs) == 0 {
		return RestoreOutcome{}, nil
	}
	slog.Info("Restoring tuning before exit", logfields.ActivePIDs(len(s.activePIDs)))
	res := s.restoreLocked(s.gpuDirty, s.cpuDirty)
	clear(s.activePIDs)
	return res, restoreErr("Failed to restore tuning on shutdown", res)
}

// Close releases the GPU handle.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gpu == nil {
		return nil
	}
	err := s.gpu.Close()
	s.gpu = nil
	return err
}

// Snapshot copies the state for reporting.
func (s *State) Snapshot() tuning.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := tuning.Status{
		Active:      len(s.activePIDs) > 0,
		PIDs:        slices.Sorted(maps.Keys(s.activePIDs)),
		LastApplied: s.lastApplied,
	}
	if st.PIDs == nil {
		st.PIDs = []int{}
	}
	if s.gpu != nil {
		st.GPU = s.gpu.Name()
	}
	if s.baselinePowerLimit != nil {
		v := *s.baselinePowerLimit
		st.BaselinePowerLimitMW = &v
	}
	if s.baselineEPP != nil {
		st.BaselineEPP = s.baselineEPP.String()
	}
	if !st.Active {
		if s.gpuDirty {
			st.PendingRestore = append(st.PendingRestore, StepGPU)
		}
		if s.cpuDirty {
			st.PendingRestore = append(st.PendingRestore, StepCPU)
		}
	}
	return st
}

// restoreLocked writes baselines back for the requested steps. A step that
// succeeds is marked clean and its baseline dropped so the next cycle captures
// a fresh one. A failed step keeps its baseline and stays dirty, and the next
// restore retries it.
func (s *State) restoreLocked(gpu, cpu bool) RestoreOutcome {
	res := RestoreOutcome{Performed: true, ActivePIDs: len(s.activePIDs)}

	if gpu {
		switch {
		case s.gpu == nil || s.baselinePowerLimit == nil:
			s.gpuDirty = false
		default:
			if err := s.gpu.RestorePowerLimit(*s.baselinePowerLimit); err != nil {
				slog.Error("Failed to restore GPU power limit", logfields.Error(err))
				res.FailedSteps = append(res.FailedSteps, StepGPU)
			} else {
				s.gpuDirty = false
				s.baselinePowerLimit = nil
			}
		}
	}

	if cpu {
		switch {
		case s.baselineEPP == nil:
			s.cpuDirty = false
		default:
			report, err := s.epp.SetEPP(*s.baselineEPP)
			if err == nil && report.Applied == 0 {
				err = errors.AdapterError("EPP baseline not restored on any core").
					WithContext("failed", report.Failed).
					Build()
			}
			if err != nil {
				slog.Error("Failed to restore CPU EPP", logfields.EPPProfile(s.baselineEPP.String()), logfields.Error(err))
				res.FailedSteps = append(res.FailedSteps, StepCPU)
			} else {
				slog.Info("Restored CPU EPP", logfields.EPPProfile(s.baselineEPP.String()))
				s.cpuDirty = false
				s.baselineEPP = nil
			}
		}
	}

	if len(res.FailedSteps) == 0 {
		slog.Info("Tuning restored to baseline")
	}
	return res
}

func restoreErr(msg string, res RestoreOutcome) error {
	if len(res.FailedSteps) == 0 {
		return nil
	}
	return errors.RestoreError(msg).
		WithContext("failed_steps", slices.Clone(res.FailedSteps)).
		Build()
}

func asHardware(err error, msg string) error {
	if errors.IsClassified(err) {
		return err
	}
	return errors.HardwareError(msg).WithCause(err).Build()
}
