package flow

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Accumulator integrates flow meter pulses into running totals.
//
// Each pulse from the flow meter indicates a fixed amount of flow, so the flow
// rate follows from the interval between consecutive pulses. The formula
// printed on the side of the Gredia flow meter is F = 21Q, where F is pulses
// per second and Q is liters per minute.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	mu          sync.Mutex
	cfg         Config
	thresholdMs int64
	lastEventMs int64
	state       State
}

// New creates an Accumulator from a persisted (or zeroed) state.
// The last event time is taken from clock, not from the snapshot, so the first
// pulse after a restart always starts a new pour.
func New(cfg Config, initial State, clock Clock) (*Accumulator, error) {
	if cfg.DeltaThreshold == 0 {
		cfg.DeltaThreshold = DefaultDeltaThreshold
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := initial.validate(); err != nil {
		return nil, err
	}

	initial.FlowConstant = cfg.FlowConstant
	return &Accumulator{
		cfg:         cfg,
		thresholdMs: cfg.DeltaThreshold.Milliseconds(),
		lastEventMs: clock.NowMillis(),
		state:       initial,
	}, nil
}

func (c Config) validate() error {
	if math.IsNaN(c.FlowConstant) || math.IsInf(c.FlowConstant, 0) || c.FlowConstant <= 0 {
		return fmt.Errorf("%w: flow constant must be positive, got %v", ErrInvalidConfig, c.FlowConstant)
	}
	if c.DeltaThreshold < time.Millisecond {
		return fmt.Errorf("%w: delta threshold must be at least 1ms, got %v", ErrInvalidConfig, c.DeltaThreshold)
	}
	return nil
}

func (s State) validate() error {
	if s.TotalEvents < 0 || s.TotalPourEvents < 0 {
		return fmt.Errorf("%w: negative event count (events=%d pour_events=%d)", ErrInvalidState, s.TotalEvents, s.TotalPourEvents)
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"totalPourTime", s.TotalPourTime},
		{"totalFrequency", s.TotalFrequency},
		{"totalFlowRate", s.TotalFlowRate},
		{"totalPour", s.TotalPour},
		{"remainingVolume", s.RemainingVolume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidState, f.name)
		}
	}
	return nil
}

// RecordPulse processes one pulse observed at nowMs and returns its effect.
// It never fails: the interval is floored to 1ms so repeated or
// out-of-order timestamps cannot divide by zero.
func (a *Accumulator) RecordPulse(nowMs int64) Pulse {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Compare before subtracting: the difference of two extreme int64
	// timestamps wraps.
	delta := int64(minEventDeltaMs)
	if nowMs > a.lastEventMs {
		delta = nowMs - a.lastEventMs
		if delta < 0 {
			delta = math.MaxInt64
		}
	}
	a.lastEventMs = nowMs

	p := Pulse{TimeMs: nowMs, DeltaMs: delta}

	// The idle gap itself produced no measurable flow.
	if delta >= a.thresholdMs {
		p.Kind = KindPourStart
		a.state.TotalPourEvents++
		return p
	}

	p.Kind = KindFlow
	p.Frequency = msPerSecond / float64(delta)
	p.FlowRate = p.Frequency / (secondsPerMinute * a.cfg.FlowConstant)
	p.PourTime = float64(delta) / msPerSecond
	p.Pour = p.FlowRate * p.PourTime

	a.state.TotalEvents++
	a.state.TotalFrequency += p.Frequency
	a.state.TotalFlowRate += p.FlowRate
	a.state.TotalPourTime += p.PourTime
	a.state.TotalPour += p.Pour
	a.state.RemainingVolume -= p.Pour
	return p
}

// Snapshot returns a copy of the accumulated state for persistence.
func (a *Accumulator) Snapshot() State {
	a.mu.Lock()
	s := a.state
	a.mu.Unlock()
	return s
}

// Statistics returns averages derived from the accumulated state.
func (a *Accumulator) Statistics() Stats {
	return StatsOf(a.Snapshot())
}

// LastEventMillis returns the timestamp of the most recent pulse, or the
// construction time if no pulse has been recorded yet.
func (a *Accumulator) LastEventMillis() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEventMs
}

// Config returns the accumulator's configuration.
func (a *Accumulator) Config() Config {
	return a.cfg
}

// StatsOf derives statistics from a state snapshot.
func StatsOf(s State) Stats {
	st := Stats{
		TotalPour:       s.TotalPour,
		TotalPourTime:   s.TotalPourTime,
		TotalPourEvents: s.TotalPourEvents,
	}
	if s.TotalEvents > 0 {
		st.AvgFrequency = s.TotalFrequency / float64(s.TotalEvents)
		st.AvgFlowRate = s.TotalFlowRate / float64(s.TotalEvents)
	}
	if s.TotalPourEvents > 0 {
		st.AvgPour = s.TotalPour / float64(s.TotalPourEvents)
	}
	return st
}
