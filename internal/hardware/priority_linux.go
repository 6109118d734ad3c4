//go:build linux

package hardware

import (
	"golang.org/x/sys/unix"

	"github.com/nvprime/nvprime/internal/foundation/errors"
)

const (
	ioprioWhoProcess = 1
	ioprioClassBE    = 2
	ioprioClassShift = 13
)

// UnixPriority adjusts scheduling through setpriority(2) and ioprio_set(2).
type UnixPriority struct{}

func (UnixPriority) SetPriority(pid, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return errors.HardwareError("setpriority failed").
			WithCause(err).
			WithContext("pid", pid).
			WithContext("nice", nice).
			Build()
	}
	return nil
}

// SetIOPriority puts pid in the best-effort I/O class at level (0 highest, 7 lowest).
func (UnixPriority) SetIOPriority(pid, level int) error {
	prio := ioprioClassBE<<ioprioClassShift | level
	if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(prio)); errno != 0 {
		return errors.HardwareError("ioprio_set failed").
			WithCause(errno).
			WithContext("pid", pid).
			WithContext("level", level).
			Build()
	}
	return nil
}
