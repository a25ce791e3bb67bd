package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States known to the current_state gauge. Kept in sync with the
// supervisor's state names.
var States = []string{"starting", "healthy", "unhealthy", "terminated"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "supervisor",
			Name:      "spawns_total",
			Help:      "Number of server spawn attempts by result.",
		}, []string{"result"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "supervisor",
			Name:      "kills_total",
			Help:      "Number of termination requests by reason.",
		}, []string{"reason"},
	)
	restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of restarts after the server was terminated or exited.",
		},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Number of health probes by result.",
		}, []string{"result"},
	)
	probeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rad",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Latency of health probes.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between supervision states.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rad",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervision state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "output",
			Name:      "lines_total",
			Help:      "Number of output lines published by stream.",
		}, []string{"stream"},
	)
	outputDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rad",
			Subsystem: "output",
			Name:      "dropped_lines_total",
			Help:      "Number of output lines dropped because a sink lagged.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, kills, restarts, healthChecks, probeLatency, stateTransitions, currentState, outputLines, outputDropped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(ok bool) {
	if regOK.Load() {
		spawns.WithLabelValues(result(ok)).Inc()
	}
}

func IncKill(reason string) {
	if regOK.Load() {
		kills.WithLabelValues(reason).Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		restarts.Inc()
	}
}

func ObserveHealthCheck(healthy bool, seconds float64) {
	if regOK.Load() {
		healthChecks.WithLabelValues(result(healthy)).Inc()
		probeLatency.Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state active and every other known state inactive.
func SetCurrentState(state string) {
	if regOK.Load() {
		for _, s := range States {
			var value float64
			if s == state {
				value = 1
			}
			currentState.WithLabelValues(s).Set(value)
		}
	}
}

func IncOutputLine(stream string) {
	if regOK.Load() {
		outputLines.WithLabelValues(stream).Inc()
	}
}

func IncOutputDropped() {
	if regOK.Load() {
		outputDropped.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
