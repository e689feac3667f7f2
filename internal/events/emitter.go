package events

import (
	"log"
	"sync/atomic"
	"time"
)

// Emitter fans events out to a buffered channel. Emission never blocks
// the caller for long: a full channel gets a short grace period, then
// the event is dropped and counted, so slow sinks (logging, metrics)
// cannot stall the coordinator.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closed       atomic.Bool
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full, it retries briefly
// before dropping the event.
func (e *Emitter) Emit(event Event) {
	if e.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[events] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events dropped so far.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for subscribers.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Emit becomes a no-op afterwards.
func (e *Emitter) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.events)
	}
}
