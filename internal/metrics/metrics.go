// ABOUTME: Prometheus instrumentation fed from the coordination event bus
// ABOUTME: Counts events, gate verdicts, conflict transitions and exposes queue depth

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-hub/internal/agent"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/quality"
	"github.com/2389/coven-hub/internal/store"
)

// Subscriber is the part of events.Bus the collector needs.
type Subscriber interface {
	OnAll(h events.Handler) string
	Off(id string) bool
}

// Collector holds the hub's Prometheus metrics. Each Collector owns its
// registry, so several can coexist in one process.
//
// Metrics:
//   - coven_hub_events_total{type}
//   - coven_hub_quality_gate_runs_total{gate,status}
//   - coven_hub_quality_gate_duration_seconds{gate}
//   - coven_hub_conflict_transitions_total{type,status}
//   - coven_hub_agent_status_changes_total{status}
//   - coven_hub_messages_queued
type Collector struct {
	registry *prometheus.Registry

	EventsTotal         *prometheus.CounterVec
	GateRunsTotal       *prometheus.CounterVec
	GateDuration        *prometheus.HistogramVec
	ConflictTransitions *prometheus.CounterVec
	AgentStatusChanges  *prometheus.CounterVec

	subscription string
	source       Subscriber
}

// NewCollector registers every metric. queued reports the number of
// messages waiting for delivery and may be nil.
func NewCollector(queued func() float64) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_hub_events_total",
				Help: "Total number of coordination events published",
			},
			[]string{"type"},
		),
		GateRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_hub_quality_gate_runs_total",
				Help: "Total number of quality gate runs by resulting status",
			},
			[]string{"gate", "status"},
		),
		GateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coven_hub_quality_gate_duration_seconds",
				Help:    "Duration of quality gate runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"gate"},
		),
		ConflictTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_hub_conflict_transitions_total",
				Help: "Total number of conflicts entering each status",
			},
			[]string{"type", "status"},
		),
		AgentStatusChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_hub_agent_status_changes_total",
				Help: "Total number of agent status changes by new status",
			},
			[]string{"status"},
		),
	}

	if queued != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "coven_hub_messages_queued",
			Help: "Messages accepted but not yet delivered",
		}, queued)
	}
	return c
}

// Attach starts counting events from src. Attaching twice replaces the
// earlier source.
func (c *Collector) Attach(src Subscriber) {
	c.Detach()
	c.source = src
	c.subscription = src.OnAll(c.Observe)
}

// Detach stops counting.
func (c *Collector) Detach() {
	if c.source != nil {
		c.source.Off(c.subscription)
		c.source = nil
	}
}

// Observe records one event.
func (c *Collector) Observe(e events.Event) {
	c.EventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch data := e.Data.(type) {
	case quality.RunResult:
		if data.Gate == nil {
			return
		}
		c.GateRunsTotal.WithLabelValues(data.Gate.ID, string(data.Gate.Status)).Inc()
		c.GateDuration.WithLabelValues(data.Gate.ID).Observe(data.Duration.Seconds())
	case *store.Conflict:
		c.ConflictTransitions.WithLabelValues(string(data.Type), string(data.Status)).Inc()
	case agent.StatusChange:
		c.AgentStatusChanges.WithLabelValues(string(data.To)).Inc()
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
