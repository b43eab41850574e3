package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastPulse     string       `json:"last_pulse,omitempty"`
	RunPulses     int64        `json:"run_pulses"`
	Stats         StatsJSON    `json:"stats"`
	State         StateJSON    `json:"state"`
	Save          SaveJSON     `json:"save"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// StatsJSON is the JSON representation of the derived flow statistics.
type StatsJSON struct {
	AvgFreq         float64 `json:"avgFreq"`
	AvgFlow         float64 `json:"avgFlow"`
	AvgPour         float64 `json:"avgPour"`
	TotalPour       float64 `json:"totalPour"`
	TotalPourTime   float64 `json:"totalPourTime"`
	TotalPourEvents int64   `json:"totalPourEvents"`
}

// StateJSON is the JSON representation of the accumulated counters.
type StateJSON struct {
	TotalEvents     int64   `json:"totalEvents"`
	TotalPourEvents int64   `json:"totalPourEvents"`
	RemainingVolume float64 `json:"remainingVolume"`
	FlowConstant    float64 `json:"flowConstant"`
}

// SaveJSON reports state file persistence.
type SaveJSON struct {
	LastSave string `json:"last_save,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Pin              int     `json:"pin"`
	Meter            string  `json:"meter,omitempty"`
	FlowConstant     float64 `json:"flow_constant"`
	DeltaThresholdMs int64   `json:"delta_threshold_ms"`
	DebounceMs       int64   `json:"debounce_ms"`
	PollMs           int64   `json:"poll_ms"`
	SaveIntervalMs   int64   `json:"save_interval_ms"`
	HeartbeatMs      int64   `json:"heartbeat_ms"`
	Keg              string  `json:"keg,omitempty"`
	Contents         string  `json:"contents,omitempty"`
	StateFile        string  `json:"state_file"`
	Broker           string  `json:"broker"`
	HTTPAddr         string  `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Stats()
	c := snap.Config

	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		LastPulse:     formatTime(snap.LastPulse),
		RunPulses:     snap.RunPulses,
		Stats: StatsJSON{
			AvgFreq:         st.AvgFrequency,
			AvgFlow:         st.AvgFlowRate,
			AvgPour:         st.AvgPour,
			TotalPour:       st.TotalPour,
			TotalPourTime:   st.TotalPourTime,
			TotalPourEvents: st.TotalPourEvents,
		},
		State: StateJSON{
			TotalEvents:     snap.Flow.TotalEvents,
			TotalPourEvents: snap.Flow.TotalPourEvents,
			RemainingVolume: snap.Flow.RemainingVolume,
			FlowConstant:    snap.Flow.FlowConstant,
		},
		Save: SaveJSON{
			LastSave: formatTime(snap.LastSave),
			Error:    snap.SaveError,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: c.Broker, Buffered: snap.MQTTBuffered},
		Config: ConfigJSON{
			Pin:              c.Pin,
			Meter:            c.Meter,
			FlowConstant:     c.FlowConstant,
			DeltaThresholdMs: c.DeltaThresholdMs,
			DebounceMs:       c.DebounceMs,
			PollMs:           c.PollMs,
			SaveIntervalMs:   c.SaveIntervalMs,
			HeartbeatMs:      c.HeartbeatMs,
			Keg:              c.Keg,
			Contents:         c.Contents,
			StateFile:        c.StateFile,
			Broker:           c.Broker,
			HTTPAddr:         c.HTTPAddr,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
