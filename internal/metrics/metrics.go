// Package metrics exposes flow meter state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/flow-sensor/internal/flow"
)

const namespace = "flow_sensor"

const scrapeTimeout = 5 * time.Second

// Source is the accumulator view read on every scrape.
type Source interface {
	Snapshot() flow.State
	Statistics() flow.Stats
}

// DropCounter reports pulses lost before reaching the accumulator.
type DropCounter interface {
	Dropped() uint64
}

// Labels identify the meter in every series.
type Labels struct {
	Pin      string
	Type     string
	Contents string
}

func (l Labels) prometheus() prometheus.Labels {
	return prometheus.Labels{"pin": l.Pin, "type": l.Type, "contents": l.Contents}
}

// Metrics owns a registry with the flow meter collectors.
type Metrics struct {
	Registry *prometheus.Registry

	pourVolume          prometheus.Counter
	pulses              *prometheus.CounterVec
	saves               *prometheus.CounterVec
	httpRequestDuration *prometheus.CounterVec
}

// New builds and registers all collectors. Gauges are computed from src at
// scrape time, so they always match the accumulator.
func New(src Source, drops DropCounter, l Labels) *Metrics {
	registry := prometheus.NewRegistry()
	labels := l.prometheus()

	m := &Metrics{
		Registry: registry,
		pourVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pour_volume_liters",
			Help:        "Volume of liquid poured since the process started",
			ConstLabels: labels,
		}),
		pulses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pulses_total",
			Help:        "Flow meter pulses since the process started, by classification",
			ConstLabels: labels,
		}, []string{"kind"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_saves_total",
			Help:      "State file save attempts by result",
		}, []string{"result"}),
		httpRequestDuration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "How long this exporter takes to respond when scraped by prometheus",
		}, []string{"handler"}),
	}

	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, f)
	}

	collectors := []prometheus.Collector{
		m.pourVolume,
		m.pulses,
		m.saves,
		m.httpRequestDuration,
		gauge("remaining_volume_liters", "Volume of liquid remaining in the supply",
			func() float64 { return src.Snapshot().RemainingVolume }),
		gauge("total_pour_liters", "Accumulated volume poured, including previous runs",
			func() float64 { return src.Snapshot().TotalPour }),
		gauge("total_pour_seconds", "Accumulated time spent pouring",
			func() float64 { return src.Snapshot().TotalPourTime }),
		gauge("pour_sessions", "Pulses that started a pour after an idle gap, including previous runs",
			func() float64 { return float64(src.Snapshot().TotalPourEvents) }),
		gauge("average_flow_rate_liters_per_second", "Mean per-pulse flow rate",
			func() float64 { return src.Statistics().AvgFlowRate }),
		gauge("average_frequency_hertz", "Mean per-pulse frequency",
			func() float64 { return src.Statistics().AvgFrequency }),
		gauge("average_pour_liters", "Mean volume per pour session",
			func() float64 { return src.Statistics().AvgPour }),
	}
	if drops != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pulses_dropped_total",
			Help:        "Pulses discarded because the pulse queue was full",
			ConstLabels: labels,
		}, func() float64 { return float64(drops.Dropped()) }))
	}

	for _, c := range collectors {
		registry.MustRegister(c)
	}

	// Pre-create the label values so the series exist before the first pulse.
	m.pulses.WithLabelValues(string(flow.KindFlow))
	m.pulses.WithLabelValues(string(flow.KindPourStart))

	return m
}

// ObservePulse records the effect of one accumulated pulse.
func (m *Metrics) ObservePulse(p flow.Pulse) {
	m.pulses.WithLabelValues(string(p.Kind)).Inc()
	if p.Pour > 0 {
		m.pourVolume.Add(p.Pour)
	}
}

// ObserveSave records a state file save attempt.
func (m *Metrics) ObserveSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}

// Handler serves the registry and records its own latency.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
		Timeout:  scrapeTimeout,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		h.ServeHTTP(w, r)
		m.httpRequestDuration.WithLabelValues("/metrics").Add(time.Since(now).Seconds())
	})
}
