//go:build !linux

package hardware

import "github.com/nvprime/nvprime/internal/foundation/errors"

// UnixPriority is only functional on Linux.
type UnixPriority struct{}

func (UnixPriority) SetPriority(pid, _ int) error {
	return errors.HardwareError("process priority is only supported on linux").WithContext("pid", pid).Build()
}

func (UnixPriority) SetIOPriority(pid, _ int) error {
	return errors.HardwareError("I/O priority is only supported on linux").WithContext("pid", pid).Build()
}
