package metrics

import "time"

// ResultLabel enumerates call outcomes for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultRejected ResultLabel = "rejected" // request invalid, nothing touched
	ResultFailed   ResultLabel = "failed"
	ResultPartial  ResultLabel = "partial"
)

// Trigger names what caused a restore.
type Trigger string

const (
	TriggerReset    Trigger = "reset"
	TriggerWatchdog Trigger = "watchdog"
	TriggerShutdown Trigger = "shutdown"
	TriggerRollback Trigger = "rollback"
)

// Recorder defines the metrics hooks of the daemon. Implementations must be
// safe for concurrent use.
type Recorder interface {
	IncApply(result ResultLabel)
	ObserveApplyDuration(d time.Duration)
	IncRestore(trigger Trigger, result ResultLabel)
	IncSoftFailure(adapter string)
	IncWatchdogStarted()
	SetActivePIDs(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncApply(ResultLabel)               {}
func (NoopRecorder) ObserveApplyDuration(time.Duration) {}
func (NoopRecorder) IncRestore(Trigger, ResultLabel)    {}
func (NoopRecorder) IncSoftFailure(string)              {}
func (NoopRecorder) IncWatchdogStarted()                {}
func (NoopRecorder) SetActivePIDs(int)                  {}
