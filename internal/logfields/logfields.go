package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared by the daemon, the RPC layer and the CLI.
const (
	KeyPID          = "pid"
	KeyRequestID    = "request_id"
	KeyGPU          = "gpu"
	KeyEPPProfile   = "epp_profile"
	KeyPowerLimitMW = "power_limit_mw"
	KeyInterval     = "interval"
	KeyTrigger      = "trigger"
	KeyFailedSteps  = "failed_steps"
	KeyActivePIDs   = "active_pids"
	KeyMethod       = "method"
	KeyPath         = "path"
	KeyDurationMS   = "duration_ms"
	KeyError        = "error"
)

func PID(pid int) slog.Attr               { return slog.Int(KeyPID, pid) }
func RequestID(id string) slog.Attr       { return slog.String(KeyRequestID, id) }
func GPU(name string) slog.Attr           { return slog.String(KeyGPU, name) }
func EPPProfile(p string) slog.Attr       { return slog.String(KeyEPPProfile, p) }
func PowerLimitMW(mw uint32) slog.Attr    { return slog.Any(KeyPowerLimitMW, mw) }
func Interval(d time.Duration) slog.Attr  { return slog.Duration(KeyInterval, d) }
func Trigger(t string) slog.Attr          { return slog.String(KeyTrigger, t) }
func FailedSteps(s []string) slog.Attr    { return slog.Any(KeyFailedSteps, s) }
func ActivePIDs(n int) slog.Attr          { return slog.Int(KeyActivePIDs, n) }
func Method(m string) slog.Attr           { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr             { return slog.String(KeyPath, p) }
func DurationMS(d time.Duration) slog.Attr { return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
