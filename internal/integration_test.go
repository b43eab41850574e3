package internal

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
	"github.com/sweeney/flow-sensor/internal/mqtt"
	"github.com/sweeney/flow-sensor/internal/status"
	"github.com/sweeney/flow-sensor/internal/store"
	"github.com/sweeney/flow-sensor/internal/web"
)

const gr301 = 21.0

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func clockAt(ms int64) flow.Clock {
	return flow.ClockFunc(func() int64 { return ms })
}

// pour returns n pulse timestamps spaced by gap starting at start.
func pour(start, gap int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)*gap
	}
	return out
}

// consume drains every queued pulse into acc, as the daemon's loop does.
func consume(t *testing.T, w *gpio.FakeWatcher, acc *flow.Accumulator) {
	t.Helper()
	for w.Pending() > 0 {
		acc.RecordPulse(<-w.Pulses())
	}
}

// TestIntegrationPourSessions drives two pours separated by an idle gap from
// the watcher through the accumulator and checks the published statistics.
func TestIntegrationPourSessions(t *testing.T) {
	// Constructed long before the first pulse, so each pour opens with a start.
	acc, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 18.93}, clockAt(-60_000))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}

	pulses := append(pour(0, 50, 41), pour(10_000, 25, 81)...)
	w := gpio.NewFakeWatcher(pulses...)
	consume(t, w, acc)

	s := acc.Snapshot()
	if s.TotalPourEvents != 2 {
		t.Errorf("TotalPourEvents: got %d, want 2", s.TotalPourEvents)
	}
	if s.TotalEvents != 40+80 {
		t.Errorf("TotalEvents: got %d, want 120", s.TotalEvents)
	}
	// 40 pulses at 20 Hz for 2s plus 80 pulses at 40 Hz for 2s.
	wantPour := 40*(20/(60*gr301))*0.05 + 80*(40/(60*gr301))*0.025
	if !approx(s.TotalPour, wantPour) {
		t.Errorf("TotalPour: got %v, want %v", s.TotalPour, wantPour)
	}
	if !approx(s.TotalPourTime, 4) {
		t.Errorf("TotalPourTime: got %v, want 4", s.TotalPourTime)
	}
	if !approx(s.RemainingVolume, 18.93-wantPour) {
		t.Errorf("RemainingVolume: got %v, want %v", s.RemainingVolume, 18.93-wantPour)
	}

	publisher := mqtt.NewFakePublisher()
	msg := mqtt.StatsMessage{
		Timestamp:       time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC),
		Pin:             14,
		Contents:        "porter",
		Stats:           acc.Statistics(),
		RemainingVolume: s.RemainingVolume,
	}
	if err := publisher.PublishStats(msg); err != nil {
		t.Fatalf("PublishStats: %v", err)
	}

	var payload mqtt.Payload
	if err := json.Unmarshal(publisher.Payloads[0], &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Flow.TotalPourEvents != 2 {
		t.Errorf("payload totalPourEvents: got %d, want 2", payload.Flow.TotalPourEvents)
	}
	if !approx(payload.Flow.AvgFreq, (40*20.0+80*40.0)/120) {
		t.Errorf("payload avgFreq: got %v", payload.Flow.AvgFreq)
	}
	if !approx(payload.Flow.AvgPour, wantPour/2) {
		t.Errorf("payload avgPour: got %v, want %v", payload.Flow.AvgPour, wantPour/2)
	}
	if payload.Flow.Timestamp != "2026-01-01T20:00:00Z" {
		t.Errorf("payload timestamp: got %q", payload.Flow.Timestamp)
	}
}

// TestIntegrationRestartContinuesTotals saves, reloads, and keeps pouring.
func TestIntegrationRestartContinuesTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 18.93}, clockAt(-60_000))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	w := gpio.NewFakeWatcher(pour(0, 50, 21)...)
	consume(t, w, first)
	if err := store.Save(path, first.Snapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The second process starts an hour later.
	second, err := flow.New(flow.Config{FlowConstant: loaded.FlowConstant}, loaded, clockAt(3_600_000))
	if err != nil {
		t.Fatalf("flow.New after restart: %v", err)
	}
	if second.LastEventMillis() != 3_600_000 {
		t.Errorf("LastEventMillis: got %d, want construction time", second.LastEventMillis())
	}

	w = gpio.NewFakeWatcher(pour(3_600_000+5_000, 50, 21)...)
	consume(t, w, second)

	// A single uninterrupted run over the same pulses.
	whole, _ := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 18.93}, clockAt(-60_000))
	w = gpio.NewFakeWatcher(append(pour(0, 50, 21), pour(3_600_000+5_000, 50, 21)...)...)
	consume(t, w, whole)

	got, want := second.Snapshot(), whole.Snapshot()
	if got.TotalEvents != want.TotalEvents || got.TotalPourEvents != want.TotalPourEvents {
		t.Errorf("counts: got %d/%d, want %d/%d", got.TotalEvents, got.TotalPourEvents, want.TotalEvents, want.TotalPourEvents)
	}
	if !approx(got.TotalPour, want.TotalPour) || !approx(got.RemainingVolume, want.RemainingVolume) {
		t.Errorf("volumes: got %v/%v, want %v/%v", got.TotalPour, got.RemainingVolume, want.TotalPour, want.RemainingVolume)
	}
}

// TestIntegrationKegRunsDry lets the remaining volume go negative.
func TestIntegrationKegRunsDry(t *testing.T) {
	acc, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 0.01}, clockAt(-60_000))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	w := gpio.NewFakeWatcher(pour(0, 25, 201)...)
	consume(t, w, acc)

	s := acc.Snapshot()
	if s.RemainingVolume >= 0 {
		t.Fatalf("RemainingVolume: got %v, want negative", s.RemainingVolume)
	}
	if !approx(s.RemainingVolume+s.TotalPour, 0.01) {
		t.Errorf("volume not conserved: remaining %v + poured %v != 0.01", s.RemainingVolume, s.TotalPour)
	}

	path := filepath.Join(t.TempDir(), "state.json")
	if err := store.Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != s {
		t.Errorf("negative remaining volume did not round trip: %+v", loaded)
	}
}

// TestIntegrationStateEndpointMatchesFile checks /state serves the same
// document that Save writes.
func TestIntegrationStateEndpointMatchesFile(t *testing.T) {
	acc, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 18.93}, clockAt(0))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	consume(t, gpio.NewFakeWatcher(pour(10, 40, 30)...), acc)

	path := filepath.Join(t.TempDir(), "state.json")
	if err := store.Save(path, acc.Snapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fromFile, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{Pin: 14})
	srv := web.New(":0", tracker, acc, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()
	fromHTTP, err := store.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode /state: %v", err)
	}
	if fromHTTP != fromFile {
		t.Errorf("/state and file differ:\nhttp %+v\nfile %+v", fromHTTP, fromFile)
	}
}

// TestIntegrationLifecycleEvents publishes STARTUP, HEARTBEAT and SHUTDOWN
// with full status payloads.
func TestIntegrationLifecycleEvents(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	acc, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{RemainingVolume: 18.93}, clockAt(0))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	tracker := status.NewTracker(start, status.Config{Pin: 14, Broker: "tcp://localhost:1883"})
	publisher := mqtt.NewFakePublisher()

	publish := func(event, reason string, retained bool) {
		snap := tracker.Snapshot()
		err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      event,
			Reason:     reason,
			Retained:   retained,
			RawPayload: status.FormatStatusEvent(snap, event, reason),
		})
		if err != nil {
			t.Fatalf("%s: %v", event, err)
		}
	}

	tracker.UpdateFlow(acc.Snapshot(), time.Time{}, 0)
	publish("STARTUP", "", true)

	consume(t, gpio.NewFakeWatcher(pour(10, 50, 10)...), acc)
	tracker.UpdateFlow(acc.Snapshot(), time.UnixMilli(460), 10)
	publish("HEARTBEAT", "", false)
	publish("SHUTDOWN", "SIGTERM", true)

	names := publisher.SystemEventNames()
	want := []string{"STARTUP", "HEARTBEAT", "SHUTDOWN"}
	if len(names) != len(want) {
		t.Fatalf("events: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, names[i], want[i])
		}
	}

	var startup, shutdown status.StatusJSON
	if err := json.Unmarshal(publisher.SystemPayloads[0], &startup); err != nil {
		t.Fatalf("STARTUP payload: %v", err)
	}
	if err := json.Unmarshal(publisher.SystemPayloads[2], &shutdown); err != nil {
		t.Fatalf("SHUTDOWN payload: %v", err)
	}
	if startup.Status.State.TotalEvents != 0 {
		t.Errorf("STARTUP TotalEvents: got %d, want 0", startup.Status.State.TotalEvents)
	}
	if shutdown.Status.State.TotalEvents != 10 {
		t.Errorf("SHUTDOWN TotalEvents: got %d, want 10", shutdown.Status.State.TotalEvents)
	}
	if shutdown.Status.Reason != "SIGTERM" {
		t.Errorf("SHUTDOWN reason: got %q", shutdown.Status.Reason)
	}
}

// TestIntegrationPublishFailureDoesNotLoseCounts checks a failed publish
// leaves the accumulated state intact for the next attempt.
func TestIntegrationPublishFailureDoesNotLoseCounts(t *testing.T) {
	acc, err := flow.New(flow.Config{FlowConstant: gr301}, flow.State{}, clockAt(0))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	consume(t, gpio.NewFakeWatcher(pour(10, 50, 5)...), acc)

	publisher := mqtt.NewFakePublisher()
	publisher.PublishError = errors.New("connection lost")
	msg := mqtt.StatsMessage{Pin: 14, Stats: acc.Statistics()}
	if err := publisher.PublishStats(msg); err == nil {
		t.Fatal("expected publish error")
	}
	if len(publisher.Stats) != 0 {
		t.Errorf("expected no recorded stats after failure, got %d", len(publisher.Stats))
	}

	publisher.PublishError = nil
	msg.Stats = acc.Statistics()
	if err := publisher.PublishStats(msg); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if publisher.Stats[0].Stats.TotalPour != acc.Snapshot().TotalPour {
		t.Error("retried publish should carry the full accumulated pour")
	}
}
