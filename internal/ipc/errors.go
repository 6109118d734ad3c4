package ipc

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/nvprime/nvprime/internal/foundation/errors"
)

// D-Bus error names returned by the service.
const (
	ErrorConfig         = BusName + ".Error.Config"
	ErrorHardware       = BusName + ".Error.Hardware"
	ErrorPartialRestore = BusName + ".Error.PartialRestore"
	ErrorInternal       = BusName + ".Error.Internal"
)

const failedStepsKey = "failed_steps"

// ToDBusError converts err into the D-Bus error sent to the caller. The first
// body element is the human readable detail. Partial restore errors carry the
// failed steps as a second, comma separated element.
func ToDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	classified, ok := errors.AsClassified(err)
	if !ok {
		return dbus.NewError(ErrorInternal, []any{err.Error()})
	}

	var name string
	switch classified.Category() {
	case errors.CategoryConfig, errors.CategoryValidation:
		name = ErrorConfig
	case errors.CategoryHardware, errors.CategoryAdapter, errors.CategoryPrivilege:
		name = ErrorHardware
	case errors.CategoryRestore:
		name = ErrorPartialRestore
	default:
		name = ErrorInternal
	}

	body := []any{classified.Detail()}
	if steps, ok := classified.Context().GetStrings(failedStepsKey); ok && len(steps) > 0 {
		body = append(body, strings.Join(steps, ","))
	}
	return dbus.NewError(name, body)
}

// FromDBusError converts an error returned by a method call back into a
// classified error. Errors that did not come from the service, such as the
// daemon not owning its bus name, become transport errors.
func FromDBusError(err error) error {
	if err == nil {
		return nil
	}

	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case stderrors.As(err, &dbusErr):
	case stderrors.As(err, &dbusErrPtr):
		dbusErr = *dbusErrPtr
	default:
		return errors.TransportError("D-Bus call failed").WithCause(err).Build()
	}

	msg := bodyString(dbusErr.Body, 0)
	if msg == "" {
		msg = dbusErr.Name
	}

	switch dbusErr.Name {
	case ErrorConfig:
		return errors.ConfigError(msg).Build()
	case ErrorHardware:
		return errors.HardwareError(msg).Build()
	case ErrorPartialRestore:
		b := errors.RestoreError(msg)
		if steps := bodyString(dbusErr.Body, 1); steps != "" {
			b = b.WithContext(failedStepsKey, strings.Split(steps, ","))
		}
		return b.Build()
	case ErrorInternal:
		return errors.DaemonError(msg).Build()
	default:
		return errors.TransportError(fmt.Sprintf("D-Bus error %s", dbusErr.Name)).
			WithCause(err).
			Build()
	}
}

func bodyString(body []any, i int) string {
	if i >= len(body) {
		return ""
	}
	s, _ := body[i].(string)
	return s
}
