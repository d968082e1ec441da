// Package metric holds the prometheus collectors exported by deimic-pi devices.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "deimicpi"

// Metrics groups every collector on its own registry, so several devices
// (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	MessagesDispatched *prometheus.CounterVec
	HandlerErrors      *prometheus.CounterVec
	FramesDrained      *prometheus.CounterVec
	StateUpdates       *prometheus.CounterVec
	MirrorErrors       *prometheus.CounterVec
	MirrorDropped      prometheus.Counter
	PendingRequests    prometheus.Gauge
	ConnectedPeers     prometheus.Gauge
	PatternWorkers     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "messages_dispatched_total",
				Help:      "Messages handed to a handler, by endpoint",
			},
			[]string{"endpoint"},
		),

		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "handler_errors_total",
				Help:      "Messages whose handler failed, by endpoint",
			},
			[]string{"endpoint"},
		),

		FramesDrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "frames_drained_total",
				Help:      "Frames left unread by a handler and discarded, by endpoint",
			},
			[]string{"endpoint"},
		),

		StateUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "state_updates_total",
				Help:      "State updates broadcast, by source and component type",
			},
			[]string{"source", "component"},
		),

		MirrorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "mirror_errors_total",
				Help:      "Failed state update mirrors, by mirror",
			},
			[]string{"mirror"},
		),

		MirrorDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "mirror_dropped_total",
				Help:      "State updates dropped because the mirror queue was full",
			},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "pending_requests",
				Help:      "Requests waiting for their peripheral to become ready",
			},
		),

		ConnectedPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "connected_peers",
				Help:      "Deimic peripherals currently connected to the raw stream",
			},
		),

		PatternWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "led_driver",
				Name:      "pattern_workers",
				Help:      "Pattern workers currently running",
			},
		),
	}

	m.registry.MustRegister(
		m.MessagesDispatched,
		m.HandlerErrors,
		m.FramesDrained,
		m.StateUpdates,
		m.MirrorErrors,
		m.MirrorDropped,
		m.PendingRequests,
		m.ConnectedPeers,
		m.PatternWorkers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
