// Package ipc is the D-Bus surface of the nvprime daemon: the exported
// service object, its introspection data, the error-name mapping and a client.
package ipc

import (
	"context"

	"github.com/nvprime/nvprime/internal/tuning"
)

// D-Bus coordinates of the daemon.
const (
	BusName    = "com.github.nvprime"
	ObjectPath = "/com/github/nvprime"
	Interface  = "com.github.nvprime.Service"
)

// Backend executes requests received over the bus.
type Backend interface {
	// Apply applies req and starts watching req.PID.
	Apply(ctx context.Context, req tuning.Request) error
	// Reset restores baselines and forgets every tracked pid.
	Reset(ctx context.Context, requestID string) error
	// Status reports the current state.
	Status() tuning.Status
}

// RejectObserver is implemented by backends that want to hear about calls
// refused before reaching them, such as malformed blobs.
type RejectObserver interface {
	Rejected(method string, pid int, err error)
}
