package gpio

import "sync/atomic"

// FakeWatcher is a test double that delivers scripted pulse timestamps.
type FakeWatcher struct {
	pulses chan int64

	// DroppedCount is returned by Dropped.
	DroppedCount uint64

	closed atomic.Bool
}

// NewFakeWatcher creates a FakeWatcher with the given timestamps already queued.
// Further pulses can be sent with Emit.
func NewFakeWatcher(timestamps ...int64) *FakeWatcher {
	f := &FakeWatcher{pulses: make(chan int64, len(timestamps)+PulseBuffer)}
	for _, ts := range timestamps {
		f.pulses <- ts
	}
	return f
}

// Emit queues a pulse. It blocks if the buffer is full.
func (f *FakeWatcher) Emit(ms int64) {
	f.pulses <- ms
}

// Pending returns the number of queued, unconsumed pulses.
func (f *FakeWatcher) Pending() int {
	return len(f.pulses)
}

// Pulses returns the pulse channel.
func (f *FakeWatcher) Pulses() <-chan int64 {
	return f.pulses
}

// Dropped returns DroppedCount.
func (f *FakeWatcher) Dropped() uint64 {
	return f.DroppedCount
}

// Close marks the watcher as closed.
func (f *FakeWatcher) Close() error {
	f.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (f *FakeWatcher) Closed() bool {
	return f.closed.Load()
}
