// Package hardware holds the adapters that touch the machine: the NVIDIA GPU
// power limit, the CPU energy-performance-preference, process scheduling
// priority and process liveness.
//
// The daemon only depends on the interfaces declared here, so tests can run the
// whole tuning lifecycle against fakes.
package hardware

import (
	"context"

	"github.com/nvprime/nvprime/internal/tuning"
)

// GPUOpener opens the GPU the daemon tunes. An empty uuid selects device 0.
type GPUOpener interface {
	Open(uuid string) (GPUDevice, error)
}

// GPUDevice is an opened GPU.
type GPUDevice interface {
	Name() string
	UUID() string
	// DefaultPowerLimit is the vendor default limit in milliwatts.
	DefaultPowerLimit() (uint32, error)
	// ApplyPowerTarget programs the target, clamped into the device constraints,
	// and returns the limit that was written.
	ApplyPowerTarget(target tuning.PowerTarget) (uint32, error)
	// RestorePowerLimit writes a previously captured limit back.
	RestorePowerLimit(milliwatts uint32) error
	Close() error
}

// EPPReport counts the cores an EPP fan-out reached.
type EPPReport struct {
	Applied int
	Failed  int
}

// EPPWriter writes an energy-performance-preference profile to every core.
// A per-core failure is counted, not returned.
type EPPWriter interface {
	SetEPP(profile tuning.EPPProfile) (EPPReport, error)
}

// PriorityAdjuster changes CPU and I/O scheduling priority of a process.
type PriorityAdjuster interface {
	SetPriority(pid, nice int) error
	SetIOPriority(pid, level int) error
}

// LivenessChecker reports whether a process is still running.
type LivenessChecker interface {
	IsAlive(ctx context.Context, pid int) bool
}
