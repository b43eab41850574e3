// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// TopicPrefix is the root of all flow meter topics.
const TopicPrefix = "kegerator/flow"

// StatsTopic is the topic for periodic flow statistics of the meter on pin.
func StatsTopic(pin int) string {
	return fmt.Sprintf("%s/%d/stats", TopicPrefix, pin)
}

// SystemTopic is the topic for lifecycle events of the meter on pin.
func SystemTopic(pin int) string {
	return fmt.Sprintf("%s/%d/system", TopicPrefix, pin)
}

// Publisher publishes flow telemetry to MQTT.
type Publisher interface {
	// PublishStats sends a statistics update.
	// Returns error if publishing fails (should not crash the process).
	PublishStats(msg StatsMessage) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool

	// Buffered returns the number of messages waiting for a connection.
	Buffered() int
}

// StatsMessage is a point-in-time statistics update.
type StatsMessage struct {
	Timestamp       time.Time
	Pin             int
	Contents        string
	Stats           flow.Stats
	RemainingVolume float64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT statistics payload structure.
type Payload struct {
	Flow FlowPayload `json:"flow"`
}

// FlowPayload contains the statistics details.
type FlowPayload struct {
	Timestamp       string  `json:"timestamp"`
	Pin             int     `json:"pin"`
	Contents        string  `json:"contents,omitempty"`
	AvgFreq         float64 `json:"avgFreq"`
	AvgFlow         float64 `json:"avgFlow"`
	AvgPour         float64 `json:"avgPour"`
	TotalPour       float64 `json:"totalPour"`
	TotalPourTime   float64 `json:"totalPourTime"`
	TotalPourEvents int64   `json:"totalPourEvents"`
	RemainingVolume float64 `json:"remainingVolume"`
}

// FormatPayload creates the JSON payload for a statistics update.
func FormatPayload(msg StatsMessage) ([]byte, error) {
	payload := Payload{
		Flow: FlowPayload{
			Timestamp:       msg.Timestamp.UTC().Format(time.RFC3339),
			Pin:             msg.Pin,
			Contents:        msg.Contents,
			AvgFreq:         msg.Stats.AvgFrequency,
			AvgFlow:         msg.Stats.AvgFlowRate,
			AvgPour:         msg.Stats.AvgPour,
			TotalPour:       msg.Stats.TotalPour,
			TotalPourTime:   msg.Stats.TotalPourTime,
			TotalPourEvents: msg.Stats.TotalPourEvents,
			RemainingVolume: msg.RemainingVolume,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (the OFFLINE will) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
