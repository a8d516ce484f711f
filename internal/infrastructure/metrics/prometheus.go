// Package metrics exports the timer daemon's counters in the Prometheus
// text format. Everything is registered on a private registry, so tests and
// several collectors in one process never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
)

const namespace = "study_timer"

// Collector owns the registry and the event-driven counters.
type Collector struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	events         *prometheus.CounterVec
	completions    *prometheus.CounterVec
	studiedSeconds *prometheus.CounterVec
	unknownEvents  prometheus.Counter
}

// New creates a collector with Go runtime and process metrics already
// registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		factory:  f,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events published by the engine, by type.",
		}, []string{"type"}),
		completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completed segments by session type and detection path.",
		}, []string{"session_type", "retroactive"}),
		studiedSeconds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completed_seconds_total",
			Help:      "Configured length of completed segments, in seconds.",
		}, []string{"session_type"}),
		unknownEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_unknown_events_total",
			Help:      "Events the collector could not classify.",
		}),
	}
}

// HandleEvent is an event bus handler. It never fails.
func (c *Collector) HandleEvent(e shared.Event) error {
	c.events.WithLabelValues(string(e.EventType())).Inc()

	if e.EventType() != shared.EventSessionCompleted {
		return nil
	}
	done, ok := e.(shared.SessionCompletedEvent)
	if !ok {
		c.unknownEvents.Inc()
		return nil
	}

	retro := "false"
	if done.Retroactive {
		retro = "true"
	}
	c.completions.WithLabelValues(done.SessionType, retro).Inc()
	c.studiedSeconds.WithLabelValues(done.SessionType).Add(float64(done.TotalDurationSeconds))
	return nil
}

// TrackTimer exports the live session as gauges read on every scrape.
func (c *Collector) TrackTimer(view func() timer.View) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remaining_seconds",
		Help:      "Seconds left in the current segment.",
	}, func() float64 {
		return float64(view().RemainingSeconds)
	})

	for _, st := range []timer.State{timer.StateIdle, timer.StateRunning, timer.StatePaused} {
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "state",
			Help:        "1 for the engine's current state, 0 otherwise.",
			ConstLabels: prometheus.Labels{"state": st.String()},
		}, func() float64 {
			if view().State == st {
				return 1
			}
			return 0
		})
	}
}

// TrackFailures exports cumulative side-effect failure counts. count is
// called once per kind on every scrape.
func (c *Collector) TrackFailures(kinds []string, count func(kind string) int64) {
	for _, kind := range kinds {
		c.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "side_effect_failures_total",
			Help:        "Failed persistence, notification and event side effects.",
			ConstLabels: prometheus.Labels{"kind": kind},
		}, func() float64 {
			return float64(count(kind))
		})
	}
}

// TrackBreaker exports a breaker's state (0 closed, 1 open, 2 half-open)
// and its rejected-call counter.
func (c *Collector) TrackBreaker(cb *circuitbreaker.CircuitBreaker) {
	labels := prometheus.Labels{"breaker": cb.Name()}
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(cb.State())
	})
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "circuit_breaker_rejected_total",
		Help:        "Calls rejected without reaching the backend.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(cb.Counts().Rejected)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
