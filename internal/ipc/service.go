package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/google/uuid"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/tuning"
	"github.com/nvprime/nvprime/internal/version"
)

// PingReply is returned by Ping.
const PingReply = "pong"

const introspectXML = `
<node>
	<interface name="` + Interface + `">
		<method name="ApplyTuning">
			<arg direction="in" type="y" name="version"/>
			<arg direction="in" type="u" name="pid"/>
			<arg direction="in" type="s" name="config"/>
		</method>
		<method name="ResetTuning">
		</method>
		<method name="Ping">
			<arg direction="out" type="s" name="reply"/>
		</method>
		<method name="Status">
			<arg direction="out" type="s" name="status"/>
		</method>
	</interface>` + introspect.IntrospectDataString + `</node>`

// Service is the object exported at ObjectPath. godbus calls each method on
// its own goroutine.
type Service struct {
	backend Backend
	newID   func() string
}

// NewService creates a service that forwards to backend.
func NewService(backend Backend) *Service {
	return &Service{
		backend: backend,
		newID:   func() string { return uuid.NewString() },
	}
}

// ApplyTuning validates and applies a tuning request for pid.
func (s *Service) ApplyTuning(ver byte, pid uint32, config string) *dbus.Error {
	id := s.newID()
	slog.Debug("ApplyTuning called", logfields.RequestID(id), logfields.PID(int(pid)), slog.Int("version", int(ver)))

	req, err := tuning.NewRequest(id, ver, int(pid), config)
	if err != nil {
		slog.Warn("Rejected tuning request", logfields.RequestID(id), logfields.PID(int(pid)), logfields.Error(err))
		s.rejected("ApplyTuning", int(pid), err)
		return ToDBusError(err)
	}
	if err := s.backend.Apply(context.Background(), req); err != nil {
		return ToDBusError(err)
	}
	return nil
}

// ResetTuning restores every baseline. It takes no arguments, so there is no
// protocol version to check.
func (s *Service) ResetTuning() *dbus.Error {
	id := s.newID()
	slog.Debug("ResetTuning called", logfields.RequestID(id))
	if err := s.backend.Reset(context.Background(), id); err != nil {
		return ToDBusError(err)
	}
	return nil
}

// Ping answers "pong".
func (s *Service) Ping() (string, *dbus.Error) {
	return PingReply, nil
}

// Status returns the daemon state as JSON.
func (s *Service) Status() (string, *dbus.Error) {
	st := s.backend.Status()
	st.Version = version.Version
	b, err := json.Marshal(st)
	if err != nil {
		return "", ToDBusError(errors.InternalError("encode status").WithCause(err).Build())
	}
	return string(b), nil
}

func (s *Service) rejected(method string, pid int, err error) {
	if o, ok := s.backend.(RejectObserver); ok {
		o.Rejected(method, pid, err)
	}
}

// Export publishes svc and its introspection data on conn, then claims
// BusName. It fails when another process already owns the name.
func Export(conn *dbus.Conn, svc *Service) error {
	if err := conn.Export(svc, ObjectPath, Interface); err != nil {
		return errors.TransportError("export service object").WithCause(err).Build()
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.TransportError("export introspection data").WithCause(err).Build()
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.TransportError("request bus name").WithCause(err).WithContext("name", BusName).Build()
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.DaemonError(fmt.Sprintf("bus name %s is already owned", BusName)).Build()
	}
	slog.Info("D-Bus service exported", slog.String("name", BusName), logfields.Path(ObjectPath))
	return nil
}

// Unexport releases BusName and removes the exported objects.
func Unexport(conn *dbus.Conn) {
	if _, err := conn.ReleaseName(BusName); err != nil {
		slog.Warn("Failed to release bus name", logfields.Error(err))
	}
	_ = conn.Export(nil, ObjectPath, Interface)
	_ = conn.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
}
