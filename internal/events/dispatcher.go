package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvprime/nvprime/internal/logfields"
)

const (
	defaultBuffer     = 256
	sinkRecordTimeout = 5 * time.Second
)

// Dispatcher delivers events to its sinks from a single goroutine so callers
// never block on disk or network. When the buffer is full new events are
// dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	done    chan struct{}
	closing sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher. A buffer of zero or less uses the default.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues e for delivery.
func (d *Dispatcher) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("Event queue full, dropping events", slog.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close drains queued events, then closes every sink. It gives up waiting
// for the drain when ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closing.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
	case <-ctx.Done():
		slog.Warn("Timed out draining event queue", logfields.Error(ctx.Err()))
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkRecordTimeout)
			if err := s.Record(ctx, e); err != nil {
				slog.Warn("Failed to record event",
					slog.String("event", string(e.Type)),
					logfields.PID(e.PID),
					logfields.Error(err))
			}
			cancel()
		}
	}
}
