//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// RealWatcher watches a flow meter line on actual hardware using the Linux GPIO
// character device.
type RealWatcher struct {
	chip    *gpiocdev.Chip
	line    *gpiocdev.Line
	clock   flow.Clock
	pulses  chan int64
	dropped atomic.Uint64
}

// NewRealWatcher requests pin on the named chip as a pulled-up input and
// starts watching it for rising edges. The kernel suppresses re-triggers
// within debounce; zero disables debouncing.
func NewRealWatcher(chipName string, pin int, debounce time.Duration, clock flow.Clock) (*RealWatcher, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &RealWatcher{
		chip:   chip,
		clock:  clock,
		pulses: make(chan int64, PulseBuffer),
	}

	// The reed switch closes to ground, so the line needs a pull-up.
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(w.handle),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request flow pin %d: %w", pin, err)
	}
	w.line = line
	return w, nil
}

// handle runs on the gpiocdev watcher goroutine and must not block.
func (w *RealWatcher) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	select {
	case w.pulses <- w.clock.NowMillis():
	default:
		w.dropped.Add(1)
	}
}

// Pulses returns the pulse timestamp channel.
func (w *RealWatcher) Pulses() <-chan int64 {
	return w.pulses
}

// Dropped returns the number of pulses lost to a full channel.
func (w *RealWatcher) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops edge detection and releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing to ensure clean state for system shutdown/reboot.
func (w *RealWatcher) Close() error {
	var errs []error

	if w.line != nil {
		if err := w.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure flow pin: %w", err))
		}
		if err := w.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow pin: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
