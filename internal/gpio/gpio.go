// Package gpio provides flow meter pulse detection with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Watcher delivers one timestamp per detected rising edge.
type Watcher interface {
	// Pulses returns the channel of pulse timestamps in milliseconds.
	// Timestamps are read from the flow clock inside the edge handler.
	Pulses() <-chan int64

	// Dropped returns the number of pulses discarded because the
	// channel was full.
	Dropped() uint64

	// Close releases GPIO resources. The pulse channel is not closed.
	Close() error
}

// Defaults for a reed-switch flow meter on a Raspberry Pi (BCM numbering).
const (
	DefaultPin = 14

	// PulseBuffer is the capacity of the pulse channel. A 98 pulse/L meter
	// at full flow produces well under 1000 pulses per second.
	PulseBuffer = 1000
)
