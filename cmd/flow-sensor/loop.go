package main

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
	"github.com/sweeney/flow-sensor/internal/metrics"
	"github.com/sweeney/flow-sensor/internal/mqtt"
	"github.com/sweeney/flow-sensor/internal/status"
)

// loop is the single consumer of pulse timestamps. It owns every call to
// RecordPulse; HTTP and metrics readers only take snapshots.
type loop struct {
	watcher    gpio.Watcher
	acc        *flow.Accumulator
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker       // may be nil
	metrics    *metrics.Metrics      // may be nil
	save       func(flow.State) error

	pin          int
	contents     string
	saveInterval time.Duration
	heartbeat    time.Duration
	now          func() time.Time

	runPulses int64
	lastPulse time.Time
	published int64      // TotalEvents at the last stats publish
	saved     flow.State // last state written successfully
	lastSave  time.Time
}

func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := l.now()
	hb := status.NewHeartbeat(startTime)
	initial := l.acc.Snapshot()
	l.published = initial.TotalEvents
	l.saved = initial
	l.lastSave = startTime

	pulses := l.watcher.Pulses()
	for {
		select {
		case s := <-sig:
			return l.shutdown(s)

		case ms, ok := <-pulses:
			if !ok {
				log.Printf("gpio: pulse channel closed")
				pulses = nil
				continue
			}
			l.record(ms)

		case <-tick:
			t := l.now()
			l.drain()
			state := l.acc.Snapshot()

			if state.TotalEvents != l.published {
				l.publishStats(t, state)
			}
			if state != l.saved && t.Sub(l.lastSave) >= l.saveInterval {
				l.persist(t, state)
			}
			if hb.Due(t, l.heartbeat) {
				l.publishHeartbeat(t, state)
			}
			l.refresh(state)
		}
	}
}

// record applies one pulse to the accumulator.
func (l *loop) record(ms int64) {
	p := l.acc.RecordPulse(ms)
	l.runPulses++
	l.lastPulse = time.UnixMilli(ms)
	if l.metrics != nil {
		l.metrics.ObservePulse(p)
	}
	if p.Kind == flow.KindPourStart {
		log.Printf("pour: started on pin %d", l.pin)
	}
}

// drain records every pulse already queued so that a tick or shutdown sees
// all edges observed before it.
func (l *loop) drain() {
	pulses := l.watcher.Pulses()
	for {
		select {
		case ms, ok := <-pulses:
			if !ok {
				return
			}
			l.record(ms)
		default:
			return
		}
	}
}

func (l *loop) publishStats(t time.Time, state flow.State) {
	msg := mqtt.StatsMessage{
		Timestamp:       t,
		Pin:             l.pin,
		Contents:        l.contents,
		Stats:           flow.StatsOf(state),
		RemainingVolume: state.RemainingVolume,
	}
	if err := l.publisher.PublishStats(msg); err != nil {
		log.Printf("publish error: %v", err)
		// Retried on the next tick.
		return
	}
	l.published = state.TotalEvents
}

// persist writes state and records the outcome. A failed save leaves
// lastSave untouched so the next tick retries.
func (l *loop) persist(t time.Time, state flow.State) error {
	err := l.save(state)
	if l.metrics != nil {
		l.metrics.ObserveSave(err)
	}
	if l.tracker != nil {
		l.tracker.RecordSave(t, err)
	}
	if err != nil {
		log.Printf("state save error: %v", err)
		return err
	}
	l.saved = state
	l.lastSave = t
	return nil
}

func (l *loop) publishHeartbeat(t time.Time, state flow.State) {
	st := flow.StatsOf(state)
	log.Printf("heartbeat: pulses=%d pours=%d poured=%.3fL remaining=%.3fL",
		state.TotalEvents, st.TotalPourEvents, st.TotalPour, state.RemainingVolume)

	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		l.refresh(state)
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

// refresh updates the status tracker for HTTP consumers.
func (l *loop) refresh(state flow.State) {
	if l.tracker == nil {
		return
	}
	l.tracker.UpdateFlow(state, l.lastPulse, l.runPulses)
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		l.tracker.SetMQTTBuffered(l.mqttStatus.Buffered())
	}
}

func (l *loop) shutdown(s os.Signal) error {
	log.Printf("received %v, shutting down", s)
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	t := l.now()
	l.drain()
	state := l.acc.Snapshot()

	var saveErr error
	if state != l.saved {
		saveErr = l.persist(t, state)
	}
	if state.TotalEvents != l.published {
		l.publishStats(t, state)
	}

	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    signalName,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refresh(state)
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
	}
	logSystemPublish("shutdown", l.mqttStatus, l.publisher.PublishSystem(event))

	if saveErr != nil {
		return fmt.Errorf("final state save: %w", saveErr)
	}
	return nil
}

// logSystemPublish reports the outcome of a lifecycle event publish. While
// the broker is unreachable the publisher only buffers the event, and the
// buffer is lost if the process exits first.
func logSystemPublish(name string, conn mqtt.ConnectionStatus, err error) {
	switch {
	case err != nil:
		log.Printf("failed to publish %s event: %v", name, err)
	case conn != nil && !conn.IsConnected():
		log.Printf("mqtt offline, %s event buffered", name)
	default:
		log.Printf("published %s event", name)
	}
}
