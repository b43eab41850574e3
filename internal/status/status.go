// Package status provides a thread-safe status tracker for the flow-sensor daemon.
// It is read by HTTP handlers and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Pin              int
	Meter            string
	FlowConstant     float64
	DeltaThresholdMs int64
	DebounceMs       int64
	PollMs           int64
	SaveIntervalMs   int64
	HeartbeatMs      int64
	Keg              string
	Contents         string
	StateFile        string
	Broker           string
	HTTPAddr         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Flow          flow.State
	LastPulse     time.Time // zero until the first pulse of this run
	RunPulses     int64     // pulses recorded since startup
	LastSave      time.Time // zero until the first successful save
	SaveError     string    // last save failure, cleared on success
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int // messages held while the broker is unreachable
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Stats returns the statistics derived from the flow state.
func (s Snapshot) Stats() flow.Stats {
	return flow.StatsOf(s.Flow)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// UpdateFlow sets the latest accumulator snapshot.
// Called from runLoop on every tick.
func (t *Tracker) UpdateFlow(state flow.State, lastPulse time.Time, runPulses int64) {
	t.mu.Lock()
	t.snap.Flow = state
	t.snap.LastPulse = lastPulse
	t.snap.RunPulses = runPulses
	t.mu.Unlock()
}

// RecordSave records the outcome of a state file save.
func (t *Tracker) RecordSave(at time.Time, err error) {
	t.mu.Lock()
	if err != nil {
		t.snap.SaveError = err.Error()
	} else {
		t.snap.LastSave = at
		t.snap.SaveError = ""
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTBuffered sets the number of MQTT messages awaiting replay.
func (t *Tracker) SetMQTTBuffered(n int) {
	t.mu.Lock()
	t.snap.MQTTBuffered = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
