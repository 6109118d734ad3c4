// Package events records tuning lifecycle events to a local journal and,
// optionally, publishes them to NATS.
package events

import (
	"context"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	TypeActivated     Type = "activated"
	TypeApplied       Type = "applied"
	TypeApplyFailed   Type = "apply_failed"
	TypeReleased      Type = "released"
	TypeRestored      Type = "restored"
	TypeRestoreFailed Type = "restore_failed"
	TypeReset         Type = "reset"
)

// Event is one lifecycle transition.
type Event struct {
	ID        int64             `json:"id,omitempty"`
	Type      Type              `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	PID       int               `json:"pid,omitempty"`
	Trigger   string            `json:"trigger,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New creates an event stamped with the current time.
func New(typ Type, pid int, requestID string) Event {
	return Event{Type: typ, PID: pid, RequestID: requestID, Timestamp: time.Now()}
}

// With returns a copy of e with key set in its metadata.
func (e Event) With(key, value string) Event {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Sink receives events.
type Sink interface {
	Record(ctx context.Context, e Event) error
	Close() error
}

// Emitter is what the daemon uses to report events.
type Emitter interface {
	Emit(e Event)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(Event) {}
