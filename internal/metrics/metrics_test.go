package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/flow-sensor/internal/flow"
)

type fakeDrops uint64

func (f fakeDrops) Dropped() uint64 { return uint64(f) }

func newTestAccumulator(t *testing.T, remaining float64) *flow.Accumulator {
	t.Helper()
	a, err := flow.New(flow.Config{FlowConstant: 21}, flow.State{RemainingVolume: remaining},
		flow.ClockFunc(func() int64 { return 0 }))
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	return a
}

var testLabels = Labels{Pin: "14", Type: "corny", Contents: "ipa"}

func TestObservePulse(t *testing.T) {
	acc := newTestAccumulator(t, 18.93)
	m := New(acc, fakeDrops(0), testLabels)

	var poured float64
	for _, ts := range []int64{5000, 5100, 5200, 5300, 9000} {
		p := acc.RecordPulse(ts)
		poured += p.Pour
		m.ObservePulse(p)
	}

	if got := testutil.ToFloat64(m.pulses.WithLabelValues("FLOW")); got != 3 {
		t.Errorf("FLOW pulses: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.pulses.WithLabelValues("POUR_START")); got != 2 {
		t.Errorf("POUR_START pulses: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pourVolume); got != poured {
		t.Errorf("pour volume: got %v, want %v", got, poured)
	}
}

func TestObserveSave(t *testing.T) {
	m := New(newTestAccumulator(t, 0), nil, testLabels)
	m.ObserveSave(nil)
	m.ObserveSave(nil)
	m.ObserveSave(errors.New("disk full"))

	if got := testutil.ToFloat64(m.saves.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok saves: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.saves.WithLabelValues("error")); got != 1 {
		t.Errorf("error saves: got %v, want 1", got)
	}
}

func TestGaugesReadAccumulator(t *testing.T) {
	acc := newTestAccumulator(t, 19.55)
	m := New(acc, fakeDrops(4), testLabels)

	for ts := int64(50); ts <= 500; ts += 50 {
		acc.RecordPulse(ts)
	}
	snap := acc.Snapshot()

	body := scrape(t, m)
	for _, want := range []string{
		`flow_sensor_remaining_volume_liters{contents="ipa",pin="14",type="corny"}`,
		`flow_sensor_total_pour_liters{contents="ipa",pin="14",type="corny"}`,
		`flow_sensor_average_frequency_hertz{contents="ipa",pin="14",type="corny"} 20`,
		`flow_sensor_pulses_dropped_total{contents="ipa",pin="14",type="corny"} 4`,
		`flow_sensor_pulses_total{contents="ipa",kind="FLOW",pin="14",type="corny"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
	if snap.RemainingVolume >= 19.55 {
		t.Errorf("expected remaining volume to drop, got %v", snap.RemainingVolume)
	}
}

func TestHandlerRecordsDuration(t *testing.T) {
	m := New(newTestAccumulator(t, 0), nil, testLabels)
	scrape(t, m)
	scrape(t, m)

	if n := testutil.CollectAndCount(m.httpRequestDuration); n != 1 {
		t.Errorf("duration series: got %d, want 1", n)
	}
}

func TestNoDropCounterWithoutSource(t *testing.T) {
	m := New(newTestAccumulator(t, 0), nil, testLabels)
	if strings.Contains(scrape(t, m), "pulses_dropped_total") {
		t.Error("pulses_dropped_total should not be registered without a drop counter")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}
