// Package privilege re-executes nvprime through pkexec when it needs root.
package privilege

import (
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
)

// EnvElevated marks a process that already tried to elevate.
const EnvElevated = "NVPRIME_ELEVATED"

// DefaultHelper is the program used to gain root.
const DefaultHelper = "pkexec"

// Elevator re-executes the current program as root. The fields default to the
// real process; tests replace them.
type Elevator struct {
	Helper     string
	Args       []string
	Geteuid    func() int
	LookupEnv  func(string) (string, bool)
	Setenv     func(string, string) error
	Executable func() (string, error)
	LookPath   func(string) (string, error)
	Exec       func(argv0 string, argv []string, envv []string) error
	Environ    func() []string
}

// NewElevator returns an elevator for this process using pkexec.
func NewElevator() *Elevator {
	return &Elevator{
		Helper:     DefaultHelper,
		Args:       os.Args[1:],
		Geteuid:    os.Geteuid,
		LookupEnv:  os.LookupEnv,
		Setenv:     os.Setenv,
		Executable: os.Executable,
		LookPath:   exec.LookPath,
		Exec:       unix.Exec,
		Environ:    os.Environ,
	}
}

// TryElevate reports whether the process runs as root. When it does not, and
// no earlier attempt was made, it replaces the process image with
// `<helper> <executable> <args...>` and does not return. A second attempt, a
// missing helper or a failed exec yield false; the caller continues
// unprivileged and individual operations fail on their own.
func (e *Elevator) TryElevate() bool {
	if e.Geteuid() == 0 {
		slog.Debug("Already running with elevated privileges")
		return true
	}
	if _, ok := e.LookupEnv(EnvElevated); ok {
		slog.Debug("Elevation already attempted, continuing without privileges")
		return false
	}

	if err := e.elevate(); err != nil {
		logPrivilegeError(err)
	}
	return false
}

func (e *Elevator) elevate() error {
	if home, ok := e.LookupEnv("HOME"); ok && home != "" {
		if err := e.Setenv(config.EnvOriginalHome, home); err != nil {
			return errors.PrivilegeError("failed to save original home").WithCause(err).Build()
		}
	}
	if err := e.Setenv(EnvElevated, "1"); err != nil {
		return errors.PrivilegeError("failed to mark elevation attempt").WithCause(err).Build()
	}

	self, err := e.Executable()
	if err != nil {
		return errors.PrivilegeError("failed to resolve own executable").WithCause(err).Build()
	}
	helper, err := e.LookPath(e.Helper)
	if err != nil {
		return errors.PrivilegeError("elevation helper not found").
			WithCause(err).
			WithContext("helper", e.Helper).
			Build()
	}

	argv := append([]string{helper, self}, e.Args...)
	slog.Info("Re-executing with elevated privileges", slog.String("helper", helper))
	slog.Debug("Elevation command", slog.Any("argv", argv))

	// Exec only returns on failure.
	if err := e.Exec(helper, argv, e.Environ()); err != nil {
		return errors.PrivilegeError("failed to exec elevation helper").
			WithCause(err).
			WithContext("helper", helper).
			Build()
	}
	return nil
}

func logPrivilegeError(err error) {
	attrs := []any{logfields.Error(err)}
	if c, ok := errors.AsClassified(err); ok {
		if helper, ok := c.Context().GetString("helper"); ok {
			attrs = append(attrs, slog.String("helper", helper))
		}
	}
	slog.Warn("Failed to elevate privileges", attrs...)
}

// TryElevate elevates the current process with pkexec.
func TryElevate() bool {
	return NewElevator().TryElevate()
}
