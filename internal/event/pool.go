package event

import (
	"sync"
)

// eventPool provides sync.Pool for high-frequency event allocation.
// Use this to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := Acquire()
//	ev.Msg = *msg
//	// ... shard processes the event ...
//	Release(ev)  // Return to pool after processing
var eventPool = sync.Pool{
	New: func() interface{} {
		return &Event{}
	},
}

// Acquire gets an Event from the pool.
// The returned event has zero values and must be initialized.
func Acquire() *Event {
	return eventPool.Get().(*Event)
}

// Release returns an Event to the pool.
// The event is reset to zero values before being pooled.
func Release(ev *Event) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Epoch = 0
	ev.Type = 0
	ev.ReceivedNs = 0
	ev.Msg.Reset()

	eventPool.Put(ev)
}

// Warmup pre-allocates events to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*Event, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, Acquire())
	}
	for _, ev := range evs {
		Release(ev)
	}
}
