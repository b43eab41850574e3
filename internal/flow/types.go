// Package flow contains the pulse accumulation logic for a pulse-output flow meter.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via a Clock.
package flow

import (
	"errors"
	"time"
)

// DefaultDeltaThreshold separates pulses that continue a pour from pulses that
// start a new one.
const DefaultDeltaThreshold = time.Second

const (
	msPerSecond      = 1000.0
	secondsPerMinute = 60.0
	minEventDeltaMs  = 1
)

var (
	// ErrInvalidConfig is returned when the flow constant or delta threshold is not positive.
	ErrInvalidConfig = errors.New("flow: invalid config")

	// ErrInvalidState is returned when a persisted snapshot is malformed or incomplete.
	ErrInvalidState = errors.New("flow: invalid state")
)

// Config holds the per-sensor constants. Both are fixed for the process lifetime.
type Config struct {
	// FlowConstant is the sensor's pulses-per-(liter/minute) divisor,
	// e.g. 21 for F = 21Q printed on the Gredia GR-301.
	FlowConstant float64
	// DeltaThreshold is the idle gap at or above which a pulse starts a new pour.
	DeltaThreshold time.Duration
}

// State is the persistable snapshot of an Accumulator.
// It is a value type, safe to use after the lock is released.
type State struct {
	TotalEvents     int64   // pulses that continued a pour
	TotalPourEvents int64   // pulses that started a new pour
	TotalPourTime   float64 // seconds
	TotalFrequency  float64 // Hz, summed
	TotalFlowRate   float64 // liters/second, summed
	TotalPour       float64 // liters
	RemainingVolume float64 // liters, may go negative
	FlowConstant    float64 // informational; zero when unknown
}

// Pulses returns the number of pulses ever recorded into this state.
func (s State) Pulses() int64 {
	return s.TotalEvents + s.TotalPourEvents
}

// Stats is a derived, read-only view of a State.
type Stats struct {
	AvgFrequency    float64
	AvgFlowRate     float64
	AvgPour         float64
	TotalPour       float64
	TotalPourTime   float64
	TotalPourEvents int64
}

// Kind classifies a single pulse.
type Kind string

const (
	// KindFlow is a pulse that continues an in-progress pour.
	KindFlow Kind = "FLOW"
	// KindPourStart is a pulse that arrives after an idle gap.
	KindPourStart Kind = "POUR_START"
)

// Pulse describes the effect of one RecordPulse call.
// Frequency, FlowRate, PourTime and Pour are zero for KindPourStart.
type Pulse struct {
	Kind      Kind
	TimeMs    int64
	DeltaMs   int64
	Frequency float64 // Hz
	FlowRate  float64 // liters/second
	PourTime  float64 // seconds
	Pour      float64 // liters
}
