package ipc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/tuning"
)

// Bus selects the message bus to use.
type Bus string

const (
	SystemBus  Bus = "system"
	SessionBus Bus = "session"
)

// Client calls the daemon over D-Bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial opens a private connection to bus.
func Dial(ctx context.Context, bus Bus) (*Client, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch bus {
	case SystemBus, "":
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	case SessionBus:
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown bus %q", bus)).Build()
	}
	if err != nil {
		return nil, errors.TransportError("connect to D-Bus").WithCause(err).WithContext("bus", string(bus)).Build()
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var reply string
	if err := c.call(ctx, "Ping").Store(&reply); err != nil {
		return "", FromDBusError(err)
	}
	return reply, nil
}

// Apply asks the daemon to tune for pid.
func (c *Client) Apply(ctx context.Context, pid int, cfg tuning.Config) error {
	if pid <= 0 {
		return errors.ConfigError("invalid pid").WithContext("pid", pid).Build()
	}
	blob, err := cfg.Encode()
	if err != nil {
		return err
	}
	return c.ApplyRaw(ctx, tuning.ProtocolVersion, uint32(pid), blob)
}

// ApplyRaw sends an ApplyTuning call with an already encoded config blob.
func (c *Client) ApplyRaw(ctx context.Context, ver uint8, pid uint32, blob string) error {
	return FromDBusError(c.call(ctx, "ApplyTuning", ver, pid, blob).Err)
}

// Reset asks the daemon to restore every baseline.
func (c *Client) Reset(ctx context.Context) error {
	return FromDBusError(c.call(ctx, "ResetTuning").Err)
}

// Status fetches the daemon state.
func (c *Client) Status(ctx context.Context) (tuning.Status, error) {
	var raw string
	if err := c.call(ctx, "Status").Store(&raw); err != nil {
		return tuning.Status{}, FromDBusError(err)
	}
	var st tuning.Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return tuning.Status{}, errors.TransportError("decode status reply").WithCause(err).Build()
	}
	return st, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args ...any) *dbus.Call {
	return c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
}
