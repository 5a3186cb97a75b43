// Package eventbus provides a bounded, fire-and-forget fan-out of process
// status and log-line events to a single observer sink. The supervisor must
// operate correctly with no subscriber at all.
package eventbus

import (
	"sync"
	"time"
)

// Event is a structured record describing a status change or a captured
// output line for a named slot.
type Event struct {
	Name         string
	Phase        string // mirrors process.Phase.String(); kept as a plain string to avoid an import cycle
	Progress     float64
	ErrorMessage string
	LogLine      string
	At           time.Time
}

// DefaultCapacity is the channel depth used when a caller does not pick one.
const DefaultCapacity = 256

// Bus is a single-sink, bounded event channel. Publish never blocks: events
// queue in the buffer whether or not anyone reads, and once the buffer is
// full further events are dropped.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// New returns a Bus with the given channel capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish emits an event to the sink, or drops it if the sink is full or the
// bus has been closed. Safe to call with no subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- e:
	default:
		// backpressure: best-effort UI, drop the event
	}
}

// Events returns the receive-only channel consumers read from. There is
// exactly one sink per Bus; multiple goroutines may read the same channel
// but events are not duplicated across readers.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close shuts the bus down. Subsequent Publish calls are no-ops. Safe to
// call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
