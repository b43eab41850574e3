package status

import "time"

// Heartbeat decides when a periodic HEARTBEAT system event is due.
// It is not safe for concurrent use; runLoop owns it.
type Heartbeat struct {
	last time.Time
}

// NewHeartbeat starts the interval at startTime.
func NewHeartbeat(startTime time.Time) *Heartbeat {
	return &Heartbeat{last: startTime}
}

// Due reports whether interval has elapsed since the last heartbeat (or
// startup) and, if so, restarts the interval at now. An interval <= 0
// disables heartbeats.
func (h *Heartbeat) Due(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	if now.Sub(h.last) < interval {
		return false
	}
	h.last = now
	return true
}
