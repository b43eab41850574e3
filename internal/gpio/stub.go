//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// RealWatcher is not available on non-Linux platforms.
type RealWatcher struct{}

// NewRealWatcher returns an error on non-Linux platforms.
func NewRealWatcher(chipName string, pin int, debounce time.Duration, clock flow.Clock) (*RealWatcher, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Pulses returns a nil channel, which never delivers.
func (w *RealWatcher) Pulses() <-chan int64 {
	return nil
}

// Dropped always returns zero.
func (w *RealWatcher) Dropped() uint64 {
	return 0
}

// Close is not implemented on non-Linux platforms.
func (w *RealWatcher) Close() error {
	return nil
}
